package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/expedition"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/transfer"
)

func (d *Dispatcher) transferStart(ctx context.Context, actor Actor, a TransferStartAction) error {
	ch, _, err := d.svc.Identity(ctx, toActor(actor))
	if err != nil {
		return err
	}
	exp, err := d.svc.Get(ctx, a.ExpeditionID)
	if err != nil {
		return err
	}
	if !exp.HasMember(ch.ID) {
		return apperr.Unauthorized("not a member of this expedition")
	}
	if err := expedition.Guard(expedition.ActionManageResources, exp, d.svc.Policy()); err != nil {
		return err
	}

	town, stock, err := d.svc.Pools(ctx, exp)
	if err != nil {
		return err
	}
	catalog, err := d.svc.ResourceTypes(ctx)
	if err != nil {
		return err
	}
	sid, err := d.stores.Transfers.Store(ctx, actor.ActorID(), TransferDraft{ExpeditionID: exp.ID}, "")
	if err != nil {
		return fmt.Errorf("failed to store transfer: %w", err)
	}

	text := fmt.Sprintf("📦 Ressources de %s\n\n🏘️ Ville :\n%s\n\n🎒 Expédition :\n%s",
		exp.Name, renderPool(town, catalog), renderPool(stock, catalog))
	return actor.Reply(ctx, Message{Text: text, Buttons: [][]Button{{
		{Label: "➕ Ville → Expédition", Unique: BtnDirection, Data: sid + ":" + dirIn},
		{Label: "➖ Expédition → Ville", Unique: BtnDirection, Data: sid + ":" + dirOut},
	}}})
}

func (d *Dispatcher) transferDirection(ctx context.Context, actor Actor, a TransferDirectionAction) error {
	draft, ok, err := d.stores.Transfers.Retrieve(ctx, a.SessionID, actor.ActorID())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.SessionExpired()
	}
	draft.ToExpedition = a.ToExpedition
	draft.DirectionSet = true
	if _, err := d.stores.Transfers.Store(ctx, actor.ActorID(), draft, a.SessionID); err != nil {
		return fmt.Errorf("failed to store transfer: %w", err)
	}

	exp, err := d.svc.Get(ctx, draft.ExpeditionID)
	if err != nil {
		return err
	}
	town, stock, err := d.svc.Pools(ctx, exp)
	if err != nil {
		return err
	}
	catalog, err := d.svc.ResourceTypes(ctx)
	if err != nil {
		return err
	}

	source, title := town, "➕ Ville → "+exp.Name
	if !a.ToExpedition {
		source, title = stock, "➖ "+exp.Name+" → Ville"
	}
	if source.Total() == 0 {
		if err := d.stores.Transfers.Remove(ctx, a.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", a.SessionID).Msg("Failed to drop empty transfer session")
		}
		return actor.Reply(ctx, Message{Text: "ℹ️ Rien à transférer dans ce sens."})
	}
	return d.armForm(ctx, actor, FormTransferQuantities, a.SessionID, Form{
		Title:       title,
		Prompt:      "Disponible :\n" + renderPool(source, catalog) + "\n\nIndique les quantités (type=quantité).",
		Placeholder: "Vivres=5, Repas=2",
	})
}

func (d *Dispatcher) transferQuantities(ctx context.Context, actor Actor, a TransferQuantitiesAction) error {
	draft, ok, err := d.stores.Transfers.Retrieve(ctx, a.SessionID, actor.ActorID())
	if err != nil {
		return err
	}
	if !ok || !draft.DirectionSet {
		return apperr.SessionExpired()
	}

	catalog, err := d.svc.ResourceTypes(ctx)
	if err != nil {
		return err
	}
	legs, err := ParseQuantities(a.Text, catalog)
	if err != nil {
		return d.retryTransfer(ctx, actor, a.SessionID, err)
	}

	move := d.svc.RemoveResources
	if draft.ToExpedition {
		move = d.svc.AddResources
	}
	res, err := move(ctx, toActor(actor), draft.ExpeditionID, legs)
	if err != nil && len(res.Moved()) == 0 && errors.Is(err, apperr.ErrValidation) {
		return d.retryTransfer(ctx, actor, a.SessionID, err)
	}

	// Past this point some legs may have been applied: the wizard ends so the
	// same quantities cannot be submitted twice.
	if rmErr := d.stores.Transfers.Remove(ctx, a.SessionID); rmErr != nil {
		return rmErr
	}
	if err != nil && !res.Partial() {
		return err
	}
	return actor.Reply(ctx, Message{Text: renderTransfer(res, err)})
}

func (d *Dispatcher) retryTransfer(ctx context.Context, actor Actor, sessionID string, cause error) error {
	if err := d.rearm(ctx, actor, FormTransferQuantities, sessionID); err != nil {
		return err
	}
	return cause
}

func renderTransfer(res transfer.Result, err error) string {
	dir := "vers l'expédition"
	if res.To.Type != model.PoolExpedition {
		dir = "vers la ville"
	}
	if err == nil {
		return "✅ Transféré " + dir + " : " + formatLegs(res.Moved())
	}

	var b strings.Builder
	b.WriteString("⚠️ Transfert partiel " + dir + ".\n")
	b.WriteString("✅ Transféré : " + formatLegs(res.Moved()) + "\n")
	b.WriteString("❌ Non transféré : " + formatLegs(res.Pending()) + "\n")
	b.WriteString("Cause : " + ErrorText(err))
	return b.String()
}
