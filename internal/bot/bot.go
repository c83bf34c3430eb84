// Package bot wires the Telegram transport to the expedition dispatcher.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"expedition-bot/internal/config"
	"expedition-bot/internal/handler"
	"expedition-bot/internal/pkg/lock"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot        *tele.Bot
	cfg        *config.Config
	dispatcher *handler.Dispatcher
	userLock   *lock.Keyed[int64]
	limiter    *RateLimiter
}

// Dependencies holds what the bot handlers need.
type Dependencies struct {
	Config     *config.Config
	Dispatcher *handler.Dispatcher
	UserLock   *lock.Keyed[int64]
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: deps.Config.Bot.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Telegram handler failed")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	userLock := deps.UserLock
	if userLock == nil {
		userLock = lock.New[int64]()
	}
	b := &Bot{
		bot:        teleBot,
		cfg:        deps.Config,
		dispatcher: deps.Dispatcher,
		userLock:   userLock,
		limiter:    NewRateLimiter(deps.Config.RateLimit.PerSecond, deps.Config.RateLimit.Burst),
	}

	b.registerMiddleware()
	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(RateLimitMiddleware(b.limiter))
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/expedition", b.handleInspect)
	b.bot.Handle("/exp_create", b.handleCreate)
	b.bot.Handle("/exp_join", b.withID(func(id string) handler.Action { return handler.JoinAction{ExpeditionID: id} }))
	b.bot.Handle("/exp_leave", b.withID(func(id string) handler.Action { return handler.LeaveAction{ExpeditionID: id} }))
	b.bot.Handle("/exp_resources", b.withID(func(id string) handler.Action { return handler.TransferStartAction{ExpeditionID: id} }))
	b.bot.Handle("/exp_vote", b.withID(func(id string) handler.Action { return handler.VoteAction{ExpeditionID: id} }))

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/exp_lock", b.handleAdmin(handler.AdminLock))
	adminGroup.Handle("/exp_depart", b.handleAdmin(handler.AdminDepart))
	adminGroup.Handle("/exp_return", b.handleAdmin(handler.AdminReturn))
	adminGroup.Handle("/exp_duration", b.handleAdmin(handler.AdminDuration))

	b.bot.Handle(tele.OnCallback, b.handleCallback)
	b.bot.Handle(tele.OnText, b.handleText)
}

// run dispatches one action, one at a time per user.
func (b *Bot) run(c tele.Context, action handler.Action) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	actor := newActor(c)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := b.userLock.TryWithLock(sender.ID, func() error {
		return b.dispatcher.Dispatch(ctx, actor, action)
	})
	if errors.Is(err, lock.ErrBusy) {
		return actor.Reply(ctx, handler.Message{Text: handler.ErrorText(err)})
	}
	return err
}

// reject renders an argument error without reaching the dispatcher.
func (b *Bot) reject(c tele.Context, err error) error {
	return newActor(c).Reply(context.Background(), handler.Message{Text: handler.ErrorText(err) + "\n" + usage})
}

const usage = "Commandes : /expedition [id], /exp_create [nom jours ressources], /exp_join <id>, /exp_leave <id>, /exp_resources <id>, /exp_vote <id>"

func (b *Bot) handleInspect(c tele.Context) error {
	var id string
	if args := c.Args(); len(args) > 0 {
		id = args[0]
	}
	return b.run(c, handler.InspectAction{ExpeditionID: id})
}

func (b *Bot) handleCreate(c tele.Context) error {
	args := c.Args()
	if len(args) == 0 {
		return b.run(c, handler.CreateAction{})
	}
	action, err := handler.ParseCreateArgs(args)
	if err != nil {
		return b.reject(c, err)
	}
	return b.run(c, action)
}

func (b *Bot) withID(build func(id string) handler.Action) tele.HandlerFunc {
	return func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return b.reject(c, errMissingID)
		}
		return b.run(c, build(args[0]))
	}
}

func (b *Bot) handleAdmin(op handler.AdminOp) tele.HandlerFunc {
	return func(c tele.Context) error {
		action, err := ParseAdminArgs(op, c.Args())
		if err != nil {
			return b.reject(c, err)
		}
		return b.run(c, action)
	}
}

func (b *Bot) handleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	unique, data := ParseCallback(cb.Data)
	log.Debug().Str("unique", unique).Str("data", data).Msg("Callback received")

	action, err := handler.DecodeCallback(unique, data)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: handler.ErrorText(err)})
	}
	return b.run(c, action)
}

// handleText routes free text to the pending form of its sender.
func (b *Bot) handleText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	actor := newActor(c)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	handled, err := b.answer(ctx, sender.ID, actor, c.Text())
	switch {
	case errors.Is(err, lock.ErrBusy):
		return actor.Reply(ctx, handler.Message{Text: handler.ErrorText(err)})
	case err != nil:
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to resolve form answer")
		return actor.Reply(ctx, handler.Message{Text: handler.ErrorText(err)})
	case handled:
		return nil
	}
	// An answer to one of our prompts whose form is gone.
	if msg := c.Message(); msg != nil && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil && msg.ReplyTo.Sender.ID == b.bot.Me.ID {
		return b.dispatcher.Expired(ctx, actor)
	}
	return nil
}

// answer consumes the pending form only once the sender's lock is held, so a
// busy sender keeps the form for the next attempt.
func (b *Bot) answer(ctx context.Context, userID int64, actor handler.Actor, text string) (bool, error) {
	var handled bool
	err := b.userLock.TryWithLock(userID, func() error {
		var err error
		handled, err = b.dispatcher.Answer(ctx, actor, text)
		return err
	})
	return handled, err
}

// ParseAdminArgs reads "<id>" or, for duration, "<id> <jours>".
func ParseAdminArgs(op handler.AdminOp, args []string) (handler.AdminAction, error) {
	if len(args) == 0 {
		return handler.AdminAction{}, errMissingID
	}
	action := handler.AdminAction{Op: op, ExpeditionID: args[0]}
	if op != handler.AdminDuration {
		return action, nil
	}
	if len(args) < 2 {
		return handler.AdminAction{}, errMissingDays
	}
	days, err := strconv.Atoi(args[1])
	if err != nil || days < 1 {
		return handler.AdminAction{}, errMissingDays
	}
	action.Days = days
	return action, nil
}

// Start starts the bot polling.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
