package bot

import (
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v3"

	"expedition-bot/internal/config"
)

// privateUserCache tracks users seen in whitelisted groups so they may also
// talk to the bot in private.
var (
	privateUserCache = make(map[int64]bool)
	privateUserMu    sync.RWMutex
)

// AllowPrivateUser marks a user as allowed to use private chat.
func AllowPrivateUser(userID int64) {
	privateUserMu.Lock()
	defer privateUserMu.Unlock()
	privateUserCache[userID] = true
}

// IsPrivateUserAllowed checks if a user is allowed to use private chat.
func IsPrivateUserAllowed(userID int64) bool {
	privateUserMu.RLock()
	defer privateUserMu.RUnlock()
	return privateUserCache[userID]
}

// WhitelistMiddleware drops updates from chats outside the whitelist.
func WhitelistMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()
			if chat == nil || sender == nil {
				return nil
			}

			if chat.Type == tele.ChatPrivate {
				if IsPrivateUserAllowed(sender.ID) || len(cfg.Whitelist.Chats) == 0 {
					return next(c)
				}
				log.Debug().
					Int64("user_id", sender.ID).
					Msg("Ignoring private chat from user not in whitelist cache")
				return nil
			}

			if !cfg.IsChatAllowed(chat.ID) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Msg("Ignoring update from non-whitelisted chat")
				return nil
			}
			AllowPrivateUser(sender.ID)
			return next(c)
		}
	}
}

// AdminMiddleware restricts a handler group to configured admins.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("⛔ Commande réservée aux administrateurs.")
			}
			return next(c)
		}
	}
}

// LoggingMiddleware logs every incoming update.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			logEvent := log.Debug()
			if sender := c.Sender(); sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat := c.Chat(); chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Bool("callback", c.Callback() != nil).
				Msg("Received update")

			return next(c)
		}
	}
}

// RecoveryMiddleware recovers from handler panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					err = c.Send("❌ Erreur interne, réessaie plus tard.")
				}
			}()
			return next(c)
		}
	}
}

// RateLimiter hands out one token bucket per user.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond interactions per user with the given
// burst. A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiters: make(map[int64]*rate.Limiter), limit: limit, burst: burst}
}

// Allow reports whether userID may act now.
func (r *RateLimiter) Allow(userID int64) bool {
	r.mu.Lock()
	l, ok := r.limiters[userID]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[userID] = l
	}
	r.mu.Unlock()
	return l.Allow()
}

// RateLimitMiddleware drops updates from users over their rate.
func RateLimitMiddleware(limiter *RateLimiter) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || limiter.Allow(sender.ID) {
				return next(c)
			}
			log.Debug().Int64("user_id", sender.ID).Msg("Rate limited")
			if c.Callback() != nil {
				return c.Respond(&tele.CallbackResponse{Text: "⏳ Doucement !"})
			}
			return nil
		}
	}
}
