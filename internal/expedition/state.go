// Package expedition implements the expedition lifecycle:
// PLANNING -> LOCKED -> DEPARTED -> RETURNED.
//
// Guards here are pre-flight checks giving fast feedback. The backend
// re-validates every mutation and its answer is the one that counts.
package expedition

import (
	"fmt"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

// Action is something a user or an admin attempts on an expedition.
type Action string

const (
	ActionJoin            Action = "join"
	ActionLeave           Action = "leave"
	ActionManageResources Action = "manage_resources"
	ActionVote            Action = "vote"
	ActionLock            Action = "lock"
	ActionDepart          Action = "depart"
	ActionReturn          Action = "return"
	ActionEditDuration    Action = "edit_duration"
)

// Policy holds the configurable lifecycle rules.
type Policy struct {
	// AllowLateJoin opens joining to LOCKED and DEPARTED expeditions.
	AllowLateJoin bool
}

var transitions = map[model.ExpeditionStatus][]model.ExpeditionStatus{
	model.StatusPlanning: {model.StatusLocked, model.StatusReturned},
	model.StatusLocked:   {model.StatusDeparted, model.StatusReturned},
	model.StatusDeparted: {model.StatusReturned},
}

// CanTransition reports whether from -> to is a lifecycle edge.
// PLANNING and LOCKED reach RETURNED only through the last member leaving.
func CanTransition(from, to model.ExpeditionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Guard checks that action is allowed on exp.
func Guard(action Action, exp *model.Expedition, policy Policy) error {
	if exp == nil {
		return apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	s := exp.Status

	var ok bool
	switch action {
	case ActionJoin:
		ok = s == model.StatusPlanning ||
			(policy.AllowLateJoin && (s == model.StatusLocked || s == model.StatusDeparted))
	case ActionLeave:
		ok = s == model.StatusPlanning || s == model.StatusLocked
	case ActionManageResources:
		ok = s == model.StatusPlanning
	case ActionVote:
		ok = s == model.StatusDeparted
	case ActionLock:
		if s == model.StatusPlanning && exp.MembersCount() == 0 {
			return apperr.State(string(s), "cannot lock an expedition without members")
		}
		ok = s == model.StatusPlanning
	case ActionDepart:
		ok = s == model.StatusLocked
	case ActionReturn:
		ok = s == model.StatusDeparted
	case ActionEditDuration:
		ok = s.Valid() && s != model.StatusReturned
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if !ok {
		return apperr.State(string(s), fmt.Sprintf("%s not allowed while %s", action, s))
	}
	return nil
}
