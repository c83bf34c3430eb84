package expedition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/membership"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/pkg/events"
	"expedition-bot/internal/pkg/lock"
	"expedition-bot/internal/pool"
	"expedition-bot/internal/transfer"
	"expedition-bot/internal/vote"
)

// MaxNameLength bounds expedition names.
const MaxNameLength = 50

// lockWait bounds how long a mutation waits for another one on the same
// expedition.
const lockWait = 10 * time.Second

// Actor identifies who acts: a platform user inside one guild.
type Actor struct {
	UserID  string
	GuildID string
}

// CreateInput holds the fields of a new expedition.
type CreateInput struct {
	Name         string
	DurationDays int
	Resources    []transfer.Leg
}

// Service runs lifecycle operations against the backend.
type Service struct {
	client    backend.Client
	members   *membership.Manager
	pools     *pool.Accessor
	transfers *transfer.Coordinator
	votes     *vote.Tracker
	publisher events.Publisher
	policy    Policy
	// locks serializes check-then-act sequences per expedition id.
	locks *lock.Keyed[string]
}

// NewService wires a Service. publisher may be nil.
func NewService(client backend.Client, publisher events.Publisher, policy Policy) *Service {
	pools := pool.NewAccessor(client)
	return &Service{
		client:    client,
		members:   membership.NewManager(client),
		pools:     pools,
		transfers: transfer.NewCoordinator(client, pools, publisher),
		votes:     vote.NewTracker(client, publisher),
		publisher: publisher,
		policy:    policy,
		locks:     lock.New[string](),
	}
}

// locked runs fn holding the lock of expeditionID.
func (s *Service) locked(ctx context.Context, expeditionID string, fn func() error) error {
	err := s.locks.WithLockContext(ctx, expeditionID, lockWait, fn)
	if errors.Is(err, lock.ErrLockTimeout) {
		log.Warn().Str("expedition_id", expeditionID).Dur("wait", lockWait).Msg("Expedition lock wait timed out")
	}
	return err
}

// Policy returns the lifecycle policy in effect.
func (s *Service) Policy() Policy { return s.policy }

// Identity resolves the actor's active character and town concurrently.
func (s *Service) Identity(ctx context.Context, actor Actor) (*model.Character, *model.Town, error) {
	var (
		ch   *model.Character
		town *model.Town
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ch, err = s.client.GetActiveCharacter(gctx, actor.UserID, actor.GuildID)
		return err
	})
	g.Go(func() error {
		var err error
		town, err = s.client.GetTownByGuild(gctx, actor.GuildID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("failed to resolve character: %w", err)
	}
	if ch == nil {
		return nil, nil, apperr.NotFound(apperr.ResourceCharacter, "no active character")
	}
	if ch.IsDead {
		return nil, nil, apperr.State("DEAD", "character is dead")
	}
	return ch, town, nil
}

// Get returns an expedition or a NotFound error.
func (s *Service) Get(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	exp, err := s.client.GetExpeditionByID(ctx, expeditionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read expedition: %w", err)
	}
	if exp == nil {
		s.votes.Reset(expeditionID)
		return nil, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	s.votes.Observe(exp)
	return exp, nil
}

// ActiveFor returns the actor's active expedition, nil when there is none.
func (s *Service) ActiveFor(ctx context.Context, actor Actor) (*model.Expedition, *model.Character, error) {
	ch, _, err := s.Identity(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	active, err := s.members.ActiveFor(ctx, ch.ID)
	if err != nil {
		return nil, ch, err
	}
	if len(active) == 0 {
		return nil, ch, nil
	}
	return &active[0], ch, nil
}

// Pools reads the town and expedition pools of exp concurrently.
func (s *Service) Pools(ctx context.Context, exp *model.Expedition) (town, expedition pool.Pool, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		town, err = s.pools.Get(gctx, pool.Town(exp.TownID))
		return err
	})
	g.Go(func() error {
		var err error
		expedition, err = s.pools.Get(gctx, pool.Expedition(exp.ID))
		return err
	})
	err = g.Wait()
	return town, expedition, err
}

// Joinable lists the expeditions of the actor's town the actor may join now.
func (s *Service) Joinable(ctx context.Context, actor Actor) ([]model.Expedition, error) {
	ch, town, err := s.Identity(ctx, actor)
	if err != nil {
		return nil, err
	}
	list, err := s.client.ListTownExpeditions(ctx, town.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list town expeditions: %w", err)
	}
	out := list[:0:0]
	for i := range list {
		if list[i].HasMember(ch.ID) || Guard(ActionJoin, &list[i], s.policy) != nil {
			continue
		}
		out = append(out, list[i])
	}
	return out, nil
}

// ResourceTypes lists the resource catalog.
func (s *Service) ResourceTypes(ctx context.Context) ([]model.ResourceType, error) {
	types, err := s.client.ListResourceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource types: %w", err)
	}
	return types, nil
}

// ValidateCreate checks the fields of a creation request.
func ValidateCreate(in CreateInput) error {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return apperr.Validation("nom", fmt.Sprintf("1-%d caractères", MaxNameLength), "invalid expedition name")
	}
	if in.DurationDays < 1 {
		return apperr.Validation("durée", ">= 1 jour", "invalid duration")
	}
	seen := make(map[int]bool, len(in.Resources))
	for _, r := range in.Resources {
		field := r.Name
		if field == "" {
			field = fmt.Sprintf("ressource %d", r.ResourceTypeID)
		}
		if r.Quantity <= 0 {
			return apperr.Validation(field, ">= 1", "quantity must be positive")
		}
		if seen[r.ResourceTypeID] {
			return apperr.Validation(field, "une fois", "resource listed twice")
		}
		seen[r.ResourceTypeID] = true
	}
	return nil
}

// Create starts a new expedition seeded from the town pool and joins the
// creator.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (*model.Expedition, error) {
	if err := ValidateCreate(in); err != nil {
		return nil, err
	}
	ch, town, err := s.Identity(ctx, actor)
	if err != nil {
		return nil, err
	}

	active, err := s.members.ActiveFor(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, apperr.State(string(active[0].Status), "character is already on an expedition")
	}

	if len(in.Resources) > 0 {
		stock, err := s.pools.Get(ctx, pool.Town(town.ID))
		if err != nil {
			return nil, err
		}
		for _, r := range in.Resources {
			if avail := stock.Quantity(r.ResourceTypeID); r.Quantity > avail {
				field := r.Name
				if field == "" {
					field = fmt.Sprintf("ressource %d", r.ResourceTypeID)
				}
				return nil, apperr.Validation(field, fmt.Sprintf("0-%d", avail), fmt.Sprintf("only %d in town", avail))
			}
		}
	}

	input := model.CreateExpeditionInput{
		Name:         strings.TrimSpace(in.Name),
		TownID:       town.ID,
		CharacterID:  ch.ID,
		CreatedBy:    actor.UserID,
		DurationDays: in.DurationDays,
	}
	for _, r := range in.Resources {
		input.InitialResources = append(input.InitialResources, model.InitialResource{ResourceTypeID: r.ResourceTypeID, Quantity: r.Quantity})
	}

	exp, err := s.client.CreateExpedition(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create expedition: %w", err)
	}
	s.emit(ctx, events.Created, exp.ID, actor.UserID, ch.ID, map[string]any{
		"name":      exp.Name,
		"duration":  exp.DurationDays,
		"resources": len(input.InitialResources),
	})
	return exp, nil
}

// Join adds the actor's character to expeditionID.
func (s *Service) Join(ctx context.Context, actor Actor, expeditionID string) (membership.JoinOutcome, error) {
	ch, _, err := s.Identity(ctx, actor)
	if err != nil {
		return membership.JoinOutcome{}, err
	}
	exp, err := s.Get(ctx, expeditionID)
	if err != nil {
		return membership.JoinOutcome{}, err
	}
	if exp.HasMember(ch.ID) {
		return membership.JoinOutcome{Expedition: exp, AlreadyMember: true}, nil
	}
	if err := Guard(ActionJoin, exp, s.policy); err != nil {
		return membership.JoinOutcome{}, err
	}

	out, err := s.members.Join(ctx, expeditionID, ch.ID)
	if err != nil {
		return out, err
	}
	if !out.AlreadyMember {
		s.emit(ctx, events.Joined, expeditionID, actor.UserID, ch.ID, map[string]any{
			"members": out.Expedition.MembersCount(),
		})
	}
	return out, nil
}

// Leave removes the actor's character from expeditionID. When it was the
// last member the expedition ends and its pool returns to the town.
func (s *Service) Leave(ctx context.Context, actor Actor, expeditionID string) (membership.LeaveOutcome, error) {
	ch, _, err := s.Identity(ctx, actor)
	if err != nil {
		return membership.LeaveOutcome{}, err
	}

	var out membership.LeaveOutcome
	err = s.locked(ctx, expeditionID, func() error {
		exp, err := s.client.GetExpeditionByID(ctx, expeditionID)
		if err != nil {
			return fmt.Errorf("failed to read expedition: %w", err)
		}
		if exp == nil || exp.Status == model.StatusReturned || !exp.HasMember(ch.ID) {
			out = membership.LeaveOutcome{Expedition: exp, AlreadyGone: true}
			return nil
		}
		if err := Guard(ActionLeave, exp, s.policy); err != nil {
			return err
		}

		out, err = s.members.Leave(ctx, expeditionID, ch.ID)
		if err != nil || out.AlreadyGone {
			return err
		}
		s.emit(ctx, events.Left, expeditionID, actor.UserID, ch.ID, nil)

		if out.Terminated {
			if out.Expedition != nil && out.Expedition.Status != model.StatusReturned {
				s.restituteFallback(ctx, out.Expedition)
			}
			s.votes.Reset(expeditionID)
			s.emit(ctx, events.Terminated, expeditionID, actor.UserID, ch.ID, nil)
		}
		return nil
	})
	if err != nil {
		return membership.LeaveOutcome{}, err
	}
	return out, nil
}

// restituteFallback drains the pool of an emptied expedition the backend did
// not return itself.
func (s *Service) restituteFallback(ctx context.Context, exp *model.Expedition) {
	log.Warn().
		Str("expedition_id", exp.ID).
		Str("status", string(exp.Status)).
		Msg("Empty expedition not returned by backend, restituting pool")

	res, err := s.transfers.Restitute(ctx, exp.ID, exp.TownID)
	if err != nil {
		log.Error().
			Err(err).
			Str("expedition_id", exp.ID).
			Int("moved_legs", len(res.Moved())).
			Int("pending_legs", len(res.Pending())).
			Msg("Restitution incomplete")
	}
}

// member checks that the actor's character belongs to expeditionID.
func (s *Service) member(ctx context.Context, actor Actor, expeditionID string) (*model.Expedition, *model.Character, error) {
	ch, _, err := s.Identity(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	exp, err := s.Get(ctx, expeditionID)
	if err != nil {
		return nil, nil, err
	}
	if !exp.HasMember(ch.ID) {
		return nil, nil, apperr.Unauthorized("not a member of this expedition")
	}
	return exp, ch, nil
}

// AddResources moves resources from the town into the expedition pool.
func (s *Service) AddResources(ctx context.Context, actor Actor, expeditionID string, legs []transfer.Leg) (transfer.Result, error) {
	return s.moveResources(ctx, actor, expeditionID, legs, true)
}

// RemoveResources moves resources from the expedition pool back to the town.
func (s *Service) RemoveResources(ctx context.Context, actor Actor, expeditionID string, legs []transfer.Leg) (transfer.Result, error) {
	return s.moveResources(ctx, actor, expeditionID, legs, false)
}

func (s *Service) moveResources(ctx context.Context, actor Actor, expeditionID string, legs []transfer.Leg, toExpedition bool) (transfer.Result, error) {
	var res transfer.Result
	err := s.locked(ctx, expeditionID, func() error {
		exp, _, err := s.member(ctx, actor, expeditionID)
		if err != nil {
			return err
		}
		if err := Guard(ActionManageResources, exp, s.policy); err != nil {
			return err
		}

		from, to := pool.Town(exp.TownID), pool.Expedition(exp.ID)
		if !toExpedition {
			from, to = to, from
		}
		res, err = s.transfers.TransferMany(ctx, from, to, legs)
		return err
	})
	return res, err
}

// Vote toggles the actor's emergency-return vote.
func (s *Service) Vote(ctx context.Context, actor Actor, expeditionID string) (vote.Result, error) {
	exp, _, err := s.member(ctx, actor, expeditionID)
	if err != nil {
		return vote.Result{}, err
	}
	if err := Guard(ActionVote, exp, s.policy); err != nil {
		return vote.Result{}, err
	}
	return s.votes.Toggle(ctx, expeditionID, actor.UserID)
}

// Lock closes an expedition to new members.
func (s *Service) Lock(ctx context.Context, adminID, expeditionID string) (*model.Expedition, error) {
	return s.adminTransition(ctx, adminID, expeditionID, ActionLock, events.Locked, s.client.LockExpedition)
}

// Depart sends a locked expedition off.
func (s *Service) Depart(ctx context.Context, adminID, expeditionID string) (*model.Expedition, error) {
	exp, err := s.adminTransition(ctx, adminID, expeditionID, ActionDepart, events.Departed, s.client.DepartExpedition)
	if err == nil {
		s.votes.Reset(expeditionID)
	}
	return exp, err
}

// Return brings a departed expedition home.
func (s *Service) Return(ctx context.Context, adminID, expeditionID string) (*model.Expedition, error) {
	exp, err := s.adminTransition(ctx, adminID, expeditionID, ActionReturn, events.Returned, s.client.ReturnExpedition)
	if err == nil {
		s.votes.Reset(expeditionID)
	}
	return exp, err
}

func (s *Service) adminTransition(
	ctx context.Context,
	adminID, expeditionID string,
	action Action,
	event events.Type,
	call func(context.Context, string) (*model.Expedition, error),
) (*model.Expedition, error) {
	var updated *model.Expedition
	err := s.locked(ctx, expeditionID, func() error {
		exp, err := s.Get(ctx, expeditionID)
		if err != nil {
			return err
		}
		if err := Guard(action, exp, s.policy); err != nil {
			return err
		}
		from := exp.Status

		updated, err = call(ctx, expeditionID)
		if err != nil {
			return fmt.Errorf("failed to %s expedition: %w", action, err)
		}
		s.emit(ctx, event, expeditionID, adminID, "", map[string]any{
			"from": string(from),
			"to":   string(updated.Status),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// EditDuration changes the planned duration of a non-returned expedition.
func (s *Service) EditDuration(ctx context.Context, adminID, expeditionID string, days int) (*model.Expedition, error) {
	if days < 1 {
		return nil, apperr.Validation("durée", ">= 1 jour", "invalid duration")
	}
	exp, err := s.Get(ctx, expeditionID)
	if err != nil {
		return nil, err
	}
	if err := Guard(ActionEditDuration, exp, s.policy); err != nil {
		return nil, err
	}

	updated, err := s.client.UpdateExpeditionDuration(ctx, expeditionID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to edit duration: %w", err)
	}
	s.emit(ctx, events.DurationEdited, expeditionID, adminID, "", map[string]any{
		"from": exp.DurationDays,
		"to":   updated.DurationDays,
	})
	return updated, nil
}

func (s *Service) emit(ctx context.Context, typ events.Type, expeditionID, actorID, characterID string, data map[string]any) {
	events.Emit(ctx, s.publisher, events.Event{
		Type:         typ,
		ExpeditionID: expeditionID,
		ActorID:      actorID,
		CharacterID:  characterID,
		Data:         data,
	})
}
