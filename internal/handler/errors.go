package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/pkg/lock"
)

// ErrorText renders err as a user reply.
func ErrorText(err error) string {
	if errors.Is(err, lock.ErrBusy) || errors.Is(err, lock.ErrLockTimeout) {
		return "⏳ Une action est déjà en cours, patiente un instant."
	}
	e, ok := apperr.As(err)
	if !ok {
		return "❌ Erreur inattendue, réessaie plus tard."
	}

	switch e.Kind {
	case apperr.KindValidation:
		text := "❌ Valeur invalide"
		if e.Field != "" {
			text += " pour « " + e.Field + " »"
		}
		if e.Range != "" {
			text += " (attendu : " + e.Range + ")"
		}
		return text + "."
	case apperr.KindState:
		if e.Status == "DEAD" {
			return "💀 Ton personnage est mort."
		}
		if e.Status == "" {
			return "🚫 Action impossible dans l'état actuel de l'expédition."
		}
		return "🚫 Action impossible : l'expédition est " + statusLabel(e.Status) + "."
	case apperr.KindNotFound:
		switch e.Resource {
		case apperr.ResourceCharacter:
			return "🔍 Tu n'as pas de personnage actif sur ce serveur."
		case apperr.ResourceTown:
			return "🔍 Aucune ville n'est liée à ce serveur."
		case apperr.ResourcePool:
			return "🔍 Réserve de ressources introuvable."
		}
		return "🔍 Expédition introuvable."
	case apperr.KindAuthorization:
		return "⛔ Tu n'as pas le droit de faire ça."
	case apperr.KindSessionExpired:
		return "⏰ Session expirée, recommence avec /expedition."
	case apperr.KindTransient:
		return "⚠️ Le serveur ne répond pas. Vérifie l'état actuel avant de réessayer."
	}
	return "❌ Erreur inattendue, réessaie plus tard."
}

func (d *Dispatcher) replyError(ctx context.Context, actor Actor, err error) error {
	switch kind := apperr.KindOf(err); {
	case errors.Is(err, lock.ErrBusy), errors.Is(err, lock.ErrLockTimeout):
	case kind == apperr.KindTransient || kind == apperr.KindUnknown:
		log.Error().Err(err).Str("actor_id", actor.ActorID()).Msg("Interaction failed")
	default:
		log.Debug().Err(err).Str("actor_id", actor.ActorID()).Msg("Interaction rejected")
	}
	return actor.Reply(ctx, Message{Text: ErrorText(err)})
}
