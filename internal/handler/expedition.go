package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"expedition-bot/internal/expedition"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/transfer"
)

func (d *Dispatcher) create(ctx context.Context, actor Actor, a CreateAction) error {
	if a.Name == "" && a.DurationDays == 0 {
		return d.startCreate(ctx, actor)
	}

	legs, err := d.parseResources(ctx, a.Resources)
	if err != nil {
		return err
	}
	return d.finishCreate(ctx, actor, expedition.CreateInput{Name: a.Name, DurationDays: a.DurationDays, Resources: legs})
}

func (d *Dispatcher) startCreate(ctx context.Context, actor Actor) error {
	// Resolve the character first so a busy or dead one is told right away.
	if _, _, err := d.svc.Identity(ctx, toActor(actor)); err != nil {
		return err
	}
	sid, err := d.stores.Creates.Store(ctx, actor.ActorID(), CreateDraft{}, "")
	if err != nil {
		return fmt.Errorf("failed to store draft: %w", err)
	}
	return d.armForm(ctx, actor, FormCreateName, sid, Form{
		Title:       "🧭 Nouvelle expédition",
		Prompt:      fmt.Sprintf("Quel nom pour l'expédition ? (1 à %d caractères)", expedition.MaxNameLength),
		Placeholder: "Nom",
	})
}

func (d *Dispatcher) createStep(ctx context.Context, actor Actor, a CreateFormAction) error {
	draft, ok, err := d.stores.Creates.Retrieve(ctx, a.SessionID, actor.ActorID())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.SessionExpired()
	}

	switch a.Step {
	case FormCreateName:
		draft.Name = strings.TrimSpace(a.Text)
		if err := expedition.ValidateCreate(expedition.CreateInput{Name: draft.Name, DurationDays: 1}); err != nil {
			return d.retry(ctx, actor, a, err)
		}
		if _, err := d.stores.Creates.Store(ctx, actor.ActorID(), draft, a.SessionID); err != nil {
			return fmt.Errorf("failed to store draft: %w", err)
		}
		return d.armForm(ctx, actor, FormCreateDuration, a.SessionID, Form{
			Title:       "🧭 " + draft.Name,
			Prompt:      "Combien de jours doit durer l'expédition ?",
			Placeholder: "3",
		})

	case FormCreateDuration:
		days, err := ParseDuration(a.Text)
		if err != nil {
			return d.retry(ctx, actor, a, err)
		}
		draft.DurationDays = days
		if _, err := d.stores.Creates.Store(ctx, actor.ActorID(), draft, a.SessionID); err != nil {
			return fmt.Errorf("failed to store draft: %w", err)
		}
		catalog, err := d.svc.ResourceTypes(ctx)
		if err != nil {
			return err
		}
		return d.armForm(ctx, actor, FormCreateResources, a.SessionID, Form{
			Title:       "🧭 " + draft.Name,
			Prompt:      "Ressources à emporter depuis la ville (" + catalogNames(catalog) + "), ou - pour aucune.",
			Placeholder: "Vivres=10, Repas=2",
		})

	case FormCreateResources:
		legs, err := d.parseResources(ctx, a.Text)
		if err != nil {
			return d.retry(ctx, actor, a, err)
		}
		err = d.finishCreate(ctx, actor, expedition.CreateInput{Name: draft.Name, DurationDays: draft.DurationDays, Resources: legs})
		if errors.Is(err, apperr.ErrValidation) {
			return d.retry(ctx, actor, a, err)
		}
		if err != nil {
			return err
		}
		return d.stores.Creates.Remove(ctx, a.SessionID)
	}
	return apperr.SessionExpired()
}

// retry keeps the form open after an invalid answer and reports cause.
func (d *Dispatcher) retry(ctx context.Context, actor Actor, a CreateFormAction, cause error) error {
	if err := d.rearm(ctx, actor, a.Step, a.SessionID); err != nil {
		return err
	}
	return cause
}

func (d *Dispatcher) parseResources(ctx context.Context, text string) ([]transfer.Leg, error) {
	if strings.TrimSpace(text) == "" || IsNone(text) {
		return nil, nil
	}
	catalog, err := d.svc.ResourceTypes(ctx)
	if err != nil {
		return nil, err
	}
	return ParseQuantities(text, catalog)
}

func (d *Dispatcher) finishCreate(ctx context.Context, actor Actor, in expedition.CreateInput) error {
	exp, err := d.svc.Create(ctx, toActor(actor), in)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("✅ Expédition %s créée pour %d jour(s). Tu en fais partie.", exp.Name, exp.DurationDays)
	if len(in.Resources) > 0 {
		text += "\nEmporté : " + formatLegs(in.Resources)
	}
	return actor.Reply(ctx, Message{Text: text, Buttons: memberButtons(exp, d.svc.Policy())})
}

func (d *Dispatcher) join(ctx context.Context, actor Actor, a JoinAction) error {
	out, err := d.svc.Join(ctx, toActor(actor), a.ExpeditionID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("✅ Tu as rejoint l'expédition %s (%d membre(s)).", out.Expedition.Name, out.Expedition.MembersCount())
	if out.AlreadyMember {
		text = fmt.Sprintf("✅ Tu fais déjà partie de l'expédition %s.", out.Expedition.Name)
	}
	return actor.Reply(ctx, Message{Text: text, Buttons: memberButtons(out.Expedition, d.svc.Policy())})
}

func (d *Dispatcher) leave(ctx context.Context, actor Actor, a LeaveAction) error {
	out, err := d.svc.Leave(ctx, toActor(actor), a.ExpeditionID)
	if err != nil {
		return err
	}
	var text string
	switch {
	case out.AlreadyGone:
		text = "ℹ️ Tu ne fais déjà plus partie de cette expédition."
	case out.Terminated:
		text = "👋 Tu étais le dernier membre : l'expédition est terminée et ses ressources sont rendues à la ville."
	default:
		text = fmt.Sprintf("👋 Tu as quitté l'expédition %s.", out.Expedition.Name)
	}
	return actor.Reply(ctx, Message{Text: text})
}

func (d *Dispatcher) inspect(ctx context.Context, actor Actor, a InspectAction) error {
	ch, _, err := d.svc.Identity(ctx, toActor(actor))
	if err != nil {
		return err
	}

	var exp *model.Expedition
	if a.ExpeditionID == "" {
		exp, _, err = d.svc.ActiveFor(ctx, toActor(actor))
		if err != nil {
			return err
		}
		if exp == nil {
			return d.inspectTown(ctx, actor)
		}
	} else if exp, err = d.svc.Get(ctx, a.ExpeditionID); err != nil {
		return err
	}

	_, stock, err := d.svc.Pools(ctx, exp)
	if err != nil {
		return err
	}
	catalog, err := d.svc.ResourceTypes(ctx)
	if err != nil {
		return err
	}

	var buttons [][]Button
	if exp.HasMember(ch.ID) {
		buttons = memberButtons(exp, d.svc.Policy())
	} else if expedition.Guard(expedition.ActionJoin, exp, d.svc.Policy()) == nil {
		buttons = [][]Button{{{Label: "🙋 Rejoindre", Unique: BtnJoin, Data: exp.ID}}}
	}
	return actor.Reply(ctx, Message{Text: renderExpedition(exp, stock, catalog), Buttons: buttons})
}

// maxJoinButtons caps the join buttons of the town overview.
const maxJoinButtons = 10

// inspectTown answers an actor without expedition with the ones they can join.
func (d *Dispatcher) inspectTown(ctx context.Context, actor Actor) error {
	open, err := d.svc.Joinable(ctx, toActor(actor))
	if err != nil {
		return err
	}

	text := "🧭 Tu ne participes à aucune expédition."
	var buttons [][]Button
	if len(open) > 0 {
		text += "\n\nExpéditions ouvertes :"
	}
	for i := range open {
		if i == maxJoinButtons {
			text += fmt.Sprintf("\n… et %d autre(s), rejoins avec /exp_join <id>.", len(open)-maxJoinButtons)
			break
		}
		e := &open[i]
		text += fmt.Sprintf("\n• %s (%d j, %d membre(s))", e.Name, e.DurationDays, e.MembersCount())
		buttons = append(buttons, []Button{{Label: "🙋 Rejoindre " + e.Name, Unique: BtnJoin, Data: e.ID}})
	}
	buttons = append(buttons, []Button{{Label: "➕ Créer une expédition", Unique: BtnCreate}})
	return actor.Reply(ctx, Message{Text: text, Buttons: buttons})
}

func (d *Dispatcher) vote(ctx context.Context, actor Actor, a VoteAction) error {
	res, err := d.svc.Vote(ctx, toActor(actor), a.ExpeditionID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("🗳️ Vote de retour d'urgence retiré (%d/%d, seuil %d).", res.TotalVotes, res.MembersCount, res.Threshold)
	if res.Voted {
		text = fmt.Sprintf("🗳️ Vote de retour d'urgence enregistré (%d/%d, seuil %d).", res.TotalVotes, res.MembersCount, res.Threshold)
	}
	if res.Milestone {
		text += "\n🚨 Seuil atteint : l'expédition demande un retour d'urgence."
	}
	return actor.Reply(ctx, Message{Text: text})
}

func (d *Dispatcher) admin(ctx context.Context, actor Actor, a AdminAction) error {
	var (
		exp *model.Expedition
		err error
		msg string
	)
	switch a.Op {
	case AdminLock:
		exp, err = d.svc.Lock(ctx, actor.ActorID(), a.ExpeditionID)
		msg = "🔒 Expédition %s verrouillée."
	case AdminDepart:
		exp, err = d.svc.Depart(ctx, actor.ActorID(), a.ExpeditionID)
		msg = "🚀 Expédition %s partie."
	case AdminReturn:
		exp, err = d.svc.Return(ctx, actor.ActorID(), a.ExpeditionID)
		msg = "🏠 Expédition %s rentrée en ville."
	case AdminDuration:
		exp, err = d.svc.EditDuration(ctx, actor.ActorID(), a.ExpeditionID, a.Days)
		msg = "⏱️ Durée de l'expédition %s modifiée."
	default:
		return apperr.Validation("opération", "lock, depart, return, duration", fmt.Sprintf("unknown admin op %q", a.Op))
	}
	if err != nil {
		return err
	}

	text := fmt.Sprintf(msg, exp.Name)
	switch {
	case a.Op == AdminDuration:
		text += fmt.Sprintf(" Nouvelle durée : %d jour(s).", exp.DurationDays)
	case a.Op == AdminDepart && exp.ReturnAt != nil:
		text += " Retour prévu le " + exp.ReturnAt.Format("02/01/2006 15:04") + "."
	}
	return actor.Reply(ctx, Message{Text: text})
}

// memberButtons lists what a member may do in the current status.
func memberButtons(exp *model.Expedition, policy expedition.Policy) [][]Button {
	var row []Button
	if expedition.Guard(expedition.ActionManageResources, exp, policy) == nil {
		row = append(row, Button{Label: "📦 Ressources", Unique: BtnManage, Data: exp.ID})
	}
	if expedition.Guard(expedition.ActionVote, exp, policy) == nil {
		row = append(row, Button{Label: "🗳️ Retour d'urgence", Unique: BtnVote, Data: exp.ID})
	}
	if expedition.Guard(expedition.ActionLeave, exp, policy) == nil {
		row = append(row, Button{Label: "👋 Quitter", Unique: BtnLeave, Data: exp.ID})
	}
	if len(row) == 0 {
		return nil
	}
	return [][]Button{row}
}
