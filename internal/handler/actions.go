package handler

import (
	"fmt"
	"strings"

	"expedition-bot/internal/pkg/apperr"
)

// Action is one inbound interaction kind. The set is closed: Dispatch
// handles every implementation.
type Action interface {
	action()
}

// CreateAction creates an expedition. An empty Name starts the step by step
// creation form instead.
type CreateAction struct {
	Name         string
	DurationDays int
	Resources    string
}

// CreateFormAction is an answer to one step of the creation form.
type CreateFormAction struct {
	SessionID string
	Step      FormKind
	Text      string
}

// JoinAction joins an expedition.
type JoinAction struct {
	ExpeditionID string
}

// LeaveAction leaves an expedition.
type LeaveAction struct {
	ExpeditionID string
}

// InspectAction shows an expedition, the actor's own when ExpeditionID is
// empty.
type InspectAction struct {
	ExpeditionID string
}

// TransferStartAction opens the resource management wizard.
type TransferStartAction struct {
	ExpeditionID string
}

// TransferDirectionAction picks the direction of a pending transfer.
type TransferDirectionAction struct {
	SessionID    string
	ToExpedition bool
}

// TransferQuantitiesAction submits the quantities of a pending transfer.
type TransferQuantitiesAction struct {
	SessionID string
	Text      string
}

// VoteAction toggles the actor's emergency-return vote.
type VoteAction struct {
	ExpeditionID string
}

// AdminOp is an admin lifecycle operation.
type AdminOp string

const (
	AdminLock     AdminOp = "lock"
	AdminDepart   AdminOp = "depart"
	AdminReturn   AdminOp = "return"
	AdminDuration AdminOp = "duration"
)

// AdminAction runs an admin operation.
type AdminAction struct {
	Op           AdminOp
	ExpeditionID string
	Days         int
}

func (CreateAction) action()             {}
func (CreateFormAction) action()         {}
func (JoinAction) action()               {}
func (LeaveAction) action()              {}
func (InspectAction) action()            {}
func (TransferStartAction) action()      {}
func (TransferDirectionAction) action()  {}
func (TransferQuantitiesAction) action() {}
func (VoteAction) action()               {}
func (AdminAction) action()              {}

// Callback button routes.
const (
	BtnCreate    = "exp_new"
	BtnJoin      = "exp_join"
	BtnLeave     = "exp_leave"
	BtnManage    = "exp_manage"
	BtnDirection = "exp_dir"
	BtnVote      = "exp_vote"
)

const (
	dirIn  = "in"
	dirOut = "out"
)

// DecodeCallback maps a button route and its data to an action.
func DecodeCallback(unique, data string) (Action, error) {
	switch unique {
	case BtnCreate:
		return CreateAction{}, nil
	case BtnJoin:
		return JoinAction{ExpeditionID: data}, requireData(unique, data)
	case BtnLeave:
		return LeaveAction{ExpeditionID: data}, requireData(unique, data)
	case BtnManage:
		return TransferStartAction{ExpeditionID: data}, requireData(unique, data)
	case BtnVote:
		return VoteAction{ExpeditionID: data}, requireData(unique, data)
	case BtnDirection:
		sid, dir, ok := strings.Cut(data, ":")
		if !ok || sid == "" || (dir != dirIn && dir != dirOut) {
			return nil, apperr.Validation("callback", "<session>:in|out", fmt.Sprintf("malformed direction %q", data))
		}
		return TransferDirectionAction{SessionID: sid, ToExpedition: dir == dirIn}, nil
	}
	return nil, apperr.Validation("callback", "known button", fmt.Sprintf("unknown button %q", unique))
}

func requireData(unique, data string) error {
	if data == "" {
		return apperr.Validation("callback", "expedition id", fmt.Sprintf("button %q without data", unique))
	}
	return nil
}
