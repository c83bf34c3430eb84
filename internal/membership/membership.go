// Package membership joins and removes characters from expeditions.
//
// Membership is always re-read from the backend right before a mutation.
// Retried or racing requests are folded into success-equivalent outcomes
// when the authoritative state already matches what the caller asked for.
package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

// JoinOutcome describes a successful join.
type JoinOutcome struct {
	Expedition *model.Expedition
	// AlreadyMember is set when the character was a member before the call.
	AlreadyMember bool
}

// LeaveOutcome describes a successful leave.
type LeaveOutcome struct {
	// Expedition is the state after the leave, nil when it no longer exists.
	Expedition *model.Expedition
	// Terminated is set when this leave emptied the expedition.
	Terminated bool
	// AlreadyGone is set when the character was no longer a member or the
	// expedition had already ended.
	AlreadyGone bool
}

// Manager wraps the backend membership calls.
type Manager struct {
	client backend.Client
}

// NewManager creates a Manager.
func NewManager(client backend.Client) *Manager {
	return &Manager{client: client}
}

// ActiveFor returns the non-returned expeditions of characterID.
func (m *Manager) ActiveFor(ctx context.Context, characterID string) ([]model.Expedition, error) {
	list, err := m.client.GetActiveExpeditionsForCharacter(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active expeditions: %w", err)
	}
	out := list[:0:0]
	for _, e := range list {
		if e.Status.Active() {
			out = append(out, e)
		}
	}
	return out, nil
}

// Join adds characterID to expeditionID.
func (m *Manager) Join(ctx context.Context, expeditionID, characterID string) (JoinOutcome, error) {
	active, err := m.ActiveFor(ctx, characterID)
	if err != nil {
		return JoinOutcome{}, err
	}
	for i := range active {
		if active[i].ID == expeditionID {
			return JoinOutcome{Expedition: &active[i], AlreadyMember: true}, nil
		}
	}
	if len(active) > 0 {
		return JoinOutcome{}, apperr.State(string(active[0].Status), "character is already on another expedition")
	}

	_, err = m.client.JoinExpedition(ctx, expeditionID, characterID)
	if err == nil {
		exp, rerr := m.client.GetExpeditionByID(ctx, expeditionID)
		if rerr != nil {
			return JoinOutcome{}, fmt.Errorf("failed to read expedition after join: %w", rerr)
		}
		if exp == nil {
			return JoinOutcome{}, apperr.NotFound(apperr.ResourceExpedition, "expedition vanished after join")
		}
		return JoinOutcome{Expedition: exp}, nil
	}

	// A concurrent or retried join may have landed meanwhile.
	if errors.Is(err, apperr.ErrState) {
		if cur, rerr := m.client.GetExpeditionByID(ctx, expeditionID); rerr == nil && cur != nil && cur.HasMember(characterID) {
			log.Debug().Str("expedition_id", expeditionID).Str("character_id", characterID).Msg("Join already applied")
			return JoinOutcome{Expedition: cur, AlreadyMember: true}, nil
		}
	}
	return JoinOutcome{}, fmt.Errorf("failed to join expedition: %w", err)
}

// Leave removes characterID from expeditionID.
func (m *Manager) Leave(ctx context.Context, expeditionID, characterID string) (LeaveOutcome, error) {
	cur, err := m.client.GetExpeditionByID(ctx, expeditionID)
	if err != nil {
		return LeaveOutcome{}, fmt.Errorf("failed to read expedition: %w", err)
	}
	if cur == nil || cur.Status == model.StatusReturned || !cur.HasMember(characterID) {
		return LeaveOutcome{Expedition: cur, AlreadyGone: true}, nil
	}

	if err := m.client.LeaveExpedition(ctx, expeditionID, characterID); err != nil {
		return m.afterFailedLeave(ctx, expeditionID, characterID, err)
	}

	// The leave answer carries no state, termination is read back.
	after, err := m.client.GetExpeditionByID(ctx, expeditionID)
	if err != nil {
		return LeaveOutcome{}, fmt.Errorf("failed to read expedition after leave: %w", err)
	}
	if after == nil {
		return LeaveOutcome{Terminated: true}, nil
	}
	terminated := after.Status == model.StatusReturned || after.MembersCount() == 0
	return LeaveOutcome{Expedition: after, Terminated: terminated}, nil
}

// afterFailedLeave folds a rejected leave into success when the character is
// no longer a member of an active expedition anyway.
func (m *Manager) afterFailedLeave(ctx context.Context, expeditionID, characterID string, cause error) (LeaveOutcome, error) {
	switch apperr.KindOf(cause) {
	case apperr.KindNotFound, apperr.KindState, apperr.KindAuthorization:
	default:
		return LeaveOutcome{}, fmt.Errorf("failed to leave expedition: %w", cause)
	}

	cur, err := m.client.GetExpeditionByID(ctx, expeditionID)
	if err != nil {
		return LeaveOutcome{}, fmt.Errorf("failed to leave expedition: %w", cause)
	}
	if cur == nil || cur.Status == model.StatusReturned || !cur.HasMember(characterID) {
		log.Debug().Err(cause).Str("expedition_id", expeditionID).Str("character_id", characterID).Msg("Leave already applied")
		return LeaveOutcome{Expedition: cur, AlreadyGone: true}, nil
	}
	return LeaveOutcome{}, fmt.Errorf("failed to leave expedition: %w", cause)
}
