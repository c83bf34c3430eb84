package handler

import (
	"context"
	"fmt"

	"expedition-bot/internal/expedition"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/session"
)

// FormKind names the question a pending form asks.
type FormKind string

const (
	FormCreateName         FormKind = "create_name"
	FormCreateDuration     FormKind = "create_duration"
	FormCreateResources    FormKind = "create_resources"
	FormTransferQuantities FormKind = "transfer_quantities"
)

// PendingForm is the form an actor is expected to answer next.
type PendingForm struct {
	Kind      FormKind `json:"kind"`
	SessionID string   `json:"session_id"`
}

// CreateDraft accumulates the answers of the creation form.
type CreateDraft struct {
	Name         string `json:"name"`
	DurationDays int    `json:"duration_days"`
}

// TransferDraft is a resource management wizard in progress.
type TransferDraft struct {
	ExpeditionID string `json:"expedition_id"`
	ToExpedition bool   `json:"to_expedition"`
	DirectionSet bool   `json:"direction_set"`
}

// Stores groups the session stores used by the multi-step flows.
type Stores struct {
	Creates   session.Store[CreateDraft]
	Transfers session.Store[TransferDraft]
	// Forms is keyed by actor, so each actor has at most one pending form.
	Forms session.Store[PendingForm]
}

// Dispatcher routes actions to the expedition service and renders the reply.
type Dispatcher struct {
	svc    *expedition.Service
	stores Stores
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(svc *expedition.Service, stores Stores) *Dispatcher {
	return &Dispatcher{svc: svc, stores: stores}
}

// Dispatch runs one action. Every action produces exactly one reply or form;
// failures are rendered to the actor. The returned error only reports a
// failure to deliver that reply.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, a Action) error {
	var err error
	switch a := a.(type) {
	case CreateAction:
		err = d.create(ctx, actor, a)
	case CreateFormAction:
		err = d.createStep(ctx, actor, a)
	case JoinAction:
		err = d.join(ctx, actor, a)
	case LeaveAction:
		err = d.leave(ctx, actor, a)
	case InspectAction:
		err = d.inspect(ctx, actor, a)
	case TransferStartAction:
		err = d.transferStart(ctx, actor, a)
	case TransferDirectionAction:
		err = d.transferDirection(ctx, actor, a)
	case TransferQuantitiesAction:
		err = d.transferQuantities(ctx, actor, a)
	case VoteAction:
		err = d.vote(ctx, actor, a)
	case AdminAction:
		err = d.admin(ctx, actor, a)
	default:
		err = apperr.Validation("action", "", fmt.Sprintf("unsupported action %T", a))
	}
	if err != nil {
		return d.replyError(ctx, actor, err)
	}
	return nil
}

// ResolveText turns free text into the answer of the actor's pending form.
// ok is false when no form is pending. The form is consumed.
func (d *Dispatcher) ResolveText(ctx context.Context, actor Actor, text string) (Action, bool, error) {
	key := formKey(actor)
	pf, ok, err := d.stores.Forms.Retrieve(ctx, key, actor.ActorID())
	if err != nil || !ok {
		return nil, false, err
	}
	if err := d.stores.Forms.Remove(ctx, key); err != nil {
		return nil, false, err
	}

	switch pf.Kind {
	case FormTransferQuantities:
		return TransferQuantitiesAction{SessionID: pf.SessionID, Text: text}, true, nil
	case FormCreateName, FormCreateDuration, FormCreateResources:
		return CreateFormAction{SessionID: pf.SessionID, Step: pf.Kind, Text: text}, true, nil
	}
	return nil, false, nil
}

// Answer resolves text against the actor's pending form and dispatches it.
// handled is false when no form is pending.
func (d *Dispatcher) Answer(ctx context.Context, actor Actor, text string) (handled bool, err error) {
	action, ok, err := d.ResolveText(ctx, actor, text)
	if err != nil || !ok {
		return false, err
	}
	return true, d.Dispatch(ctx, actor, action)
}

// Expired tells the actor their flow timed out.
func (d *Dispatcher) Expired(ctx context.Context, actor Actor) error {
	return d.replyError(ctx, actor, apperr.SessionExpired())
}

// armForm registers the next expected answer and shows its prompt.
func (d *Dispatcher) armForm(ctx context.Context, actor Actor, kind FormKind, sessionID string, form Form) error {
	if err := d.rearm(ctx, actor, kind, sessionID); err != nil {
		return err
	}
	return actor.ShowForm(ctx, form)
}

// rearm registers the expected answer without prompting again.
func (d *Dispatcher) rearm(ctx context.Context, actor Actor, kind FormKind, sessionID string) error {
	_, err := d.stores.Forms.Store(ctx, actor.ActorID(), PendingForm{Kind: kind, SessionID: sessionID}, formKey(actor))
	if err != nil {
		return fmt.Errorf("failed to store form: %w", err)
	}
	return nil
}

func formKey(actor Actor) string {
	return "form:" + actor.GuildID() + ":" + actor.ActorID()
}

func toActor(actor Actor) expedition.Actor {
	return expedition.Actor{UserID: actor.ActorID(), GuildID: actor.GuildID()}
}
