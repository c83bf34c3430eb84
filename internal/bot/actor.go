package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"expedition-bot/internal/handler"
	"expedition-bot/internal/pkg/apperr"
)

var (
	errMissingID   = apperr.Validation("id", "identifiant d'expédition", "missing expedition id")
	errMissingDays = apperr.Validation("jours", "entier >= 1", "missing or invalid days")
)

// teleActor is the handler.Actor view of a Telegram update.
type teleActor struct {
	c tele.Context
}

func newActor(c tele.Context) *teleActor { return &teleActor{c: c} }

func (a *teleActor) ActorID() string {
	if s := a.c.Sender(); s != nil {
		return strconv.FormatInt(s.ID, 10)
	}
	return ""
}

// GuildID is the chat the interaction happened in.
func (a *teleActor) GuildID() string {
	if ch := a.c.Chat(); ch != nil {
		return strconv.FormatInt(ch.ID, 10)
	}
	return ""
}

func (a *teleActor) Reply(ctx context.Context, msg handler.Message) error {
	opts := []any{}
	if len(msg.Buttons) > 0 {
		opts = append(opts, InlineMarkup(msg.Buttons))
	}
	if a.c.Callback() != nil {
		a.ack()
		return a.c.Send(msg.Text, opts...)
	}
	return a.c.Reply(msg.Text, opts...)
}

// ShowForm asks for the answer with a forced reply, so the next message of
// the user is addressed to the bot even in a group.
func (a *teleActor) ShowForm(ctx context.Context, form handler.Form) error {
	markup := &tele.ReplyMarkup{ForceReply: true, Placeholder: form.Placeholder}
	text := form.Prompt
	if form.Title != "" {
		text = form.Title + "\n" + form.Prompt
	}
	if a.c.Callback() != nil {
		a.ack()
		return a.c.Send(text, markup)
	}
	// Only the author of the command is asked.
	markup.Selective = true
	return a.c.Reply(text, markup)
}

// ack stops the client spinner of a pressed button. The reply is sent even
// when the acknowledgement fails.
func (a *teleActor) ack() {
	if err := a.c.Respond(); err != nil {
		log.Warn().Err(err).Str("actor_id", a.ActorID()).Msg("Failed to answer callback")
	}
}

// InlineMarkup builds an inline keyboard from button rows.
func InlineMarkup(rows [][]handler.Button) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	out := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			if b.Data == "" {
				btns = append(btns, markup.Data(b.Label, b.Unique))
				continue
			}
			btns = append(btns, markup.Data(b.Label, b.Unique, b.Data))
		}
		out = append(out, markup.Row(btns...))
	}
	markup.Inline(out...)
	return markup
}

// ParseCallback splits telebot callback data "\funique|data".
func ParseCallback(raw string) (unique, data string) {
	raw = strings.TrimPrefix(raw, "\f")
	unique, data, _ = strings.Cut(raw, "|")
	return unique, data
}
