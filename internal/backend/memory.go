package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

// Memory is an in-process backend enforcing the same rules as the game
// server. It backs tests and local runs without a configured base URL.
type Memory struct {
	mu sync.Mutex

	towns         map[string]*model.Town      // by town id
	townByGuild   map[string]string           // guild id -> town id
	characters    map[string]*model.Character // by character id
	resourceTypes []model.ResourceType
	expeditions   map[string]*model.Expedition
	pools         map[poolKey]map[int]int
	votes         map[string]map[string]bool // expedition id -> voter user ids

	lateJoin      bool
	autoTerminate bool
	now           func() time.Time
}

type poolKey struct {
	typ model.PoolType
	id  string
}

var _ Client = (*Memory)(nil)

// MemoryOption configures a Memory backend.
type MemoryOption func(*Memory)

// WithLateJoin lets characters join LOCKED and DEPARTED expeditions.
func WithLateJoin(allow bool) MemoryOption {
	return func(m *Memory) { m.lateJoin = allow }
}

// WithAutoTermination controls whether the last leave returns the
// expedition. Disabling it reproduces backends that only remove the member.
func WithAutoTermination(enabled bool) MemoryOption {
	return func(m *Memory) { m.autoTerminate = enabled }
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		towns:         make(map[string]*model.Town),
		townByGuild:   make(map[string]string),
		characters:    make(map[string]*model.Character),
		expeditions:   make(map[string]*model.Expedition),
		pools:         make(map[poolKey]map[int]int),
		votes:         make(map[string]map[string]bool),
		autoTerminate: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTown registers a town and its initial stock.
func (m *Memory) AddTown(town model.Town, stock map[int]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := town
	m.towns[t.ID] = &t
	m.townByGuild[t.GuildID] = t.ID
	pool := make(map[int]int, len(stock))
	for id, qty := range stock {
		pool[id] = qty
	}
	m.pools[poolKey{model.PoolTown, t.ID}] = pool
}

// AddCharacter registers a character.
func (m *Memory) AddCharacter(c model.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := c
	m.characters[ch.ID] = &ch
}

// SetResourceTypes replaces the resource type catalog.
func (m *Memory) SetResourceTypes(types []model.ResourceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceTypes = append([]model.ResourceType(nil), types...)
}

// Stock returns the quantity of one resource type in a pool.
func (m *Memory) Stock(poolType model.PoolType, poolID string, resourceTypeID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pools[poolKey{poolType, poolID}][resourceTypeID]
}

// TotalStock sums one resource type over every pool.
func (m *Memory) TotalStock(resourceTypeID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, pool := range m.pools {
		total += pool[resourceTypeID]
	}
	return total
}

// GetActiveExpeditionsForCharacter implements Client.
func (m *Memory) GetActiveExpeditionsForCharacter(ctx context.Context, characterID string) ([]model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []model.Expedition{}
	for _, e := range m.activeFor(characterID) {
		out = append(out, snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) activeFor(characterID string) []*model.Expedition {
	var out []*model.Expedition
	for _, e := range m.expeditions {
		if e.Status.Active() && e.HasMember(characterID) {
			out = append(out, e)
		}
	}
	return out
}

// CreateExpedition implements Client.
func (m *Memory) CreateExpedition(ctx context.Context, in model.CreateExpeditionInput) (*model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if in.Name == "" {
		return nil, apperr.Validation("name", "1-50", "expedition name is required")
	}
	if in.DurationDays < 1 {
		return nil, apperr.Validation("duration", ">= 1", "duration must be at least one day")
	}
	ch, err := m.joinable(in.CharacterID)
	if err != nil {
		return nil, err
	}
	town, ok := m.towns[in.TownID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceTown, "town not found")
	}

	townPool := m.pools[poolKey{model.PoolTown, town.ID}]
	seen := make(map[int]bool, len(in.InitialResources))
	for _, r := range in.InitialResources {
		if r.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("resource %d", r.ResourceTypeID), ">= 1", "initial quantity must be positive")
		}
		if seen[r.ResourceTypeID] {
			return nil, apperr.Validation(fmt.Sprintf("resource %d", r.ResourceTypeID), "once", "resource listed twice")
		}
		seen[r.ResourceTypeID] = true
		if townPool[r.ResourceTypeID] < r.Quantity {
			return nil, apperr.Validation(fmt.Sprintf("resource %d", r.ResourceTypeID), fmt.Sprintf("0-%d", townPool[r.ResourceTypeID]), "not enough stock in town")
		}
	}

	e := &model.Expedition{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Status:       model.StatusPlanning,
		DurationDays: in.DurationDays,
		TownID:       town.ID,
		CreatedBy:    in.CreatedBy,
		Members:      []model.Member{{CharacterID: ch.ID, Name: ch.Name, UserID: ch.UserID}},
		CreatedAt:    m.now().UTC(),
	}
	pool := make(map[int]int, len(in.InitialResources))
	for _, r := range in.InitialResources {
		townPool[r.ResourceTypeID] -= r.Quantity
		pool[r.ResourceTypeID] += r.Quantity
	}
	m.expeditions[e.ID] = e
	m.pools[poolKey{model.PoolExpedition, e.ID}] = pool

	out := snapshot(e)
	return &out, nil
}

// joinable checks the character may take part in a new expedition.
func (m *Memory) joinable(characterID string) (*model.Character, error) {
	ch, ok := m.characters[characterID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceCharacter, "character not found")
	}
	if ch.IsDead {
		return nil, apperr.State("DEAD", "character is dead")
	}
	if active := m.activeFor(characterID); len(active) > 0 {
		return nil, apperr.State(string(active[0].Status), "character is already on an active expedition")
	}
	return ch, nil
}

// ListTownExpeditions implements Client.
func (m *Memory) ListTownExpeditions(ctx context.Context, townID string) ([]model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.towns[townID]; !ok {
		return nil, apperr.NotFound(apperr.ResourceTown, "town not found")
	}
	out := []model.Expedition{}
	for _, e := range m.expeditions {
		if e.TownID == townID && e.Status.Active() {
			out = append(out, snapshot(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// JoinExpedition implements Client.
func (m *Memory) JoinExpedition(ctx context.Context, expeditionID, characterID string) (*model.ExpeditionMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expeditions[expeditionID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if !m.joinStatus(e.Status) {
		return nil, apperr.State(string(e.Status), "expedition is not open to new members")
	}
	if e.HasMember(characterID) {
		return nil, apperr.State(string(e.Status), "character is already a member")
	}
	ch, err := m.joinable(characterID)
	if err != nil {
		return nil, err
	}

	e.Members = append(e.Members, model.Member{CharacterID: ch.ID, Name: ch.Name, UserID: ch.UserID})
	return &model.ExpeditionMember{ID: uuid.NewString(), ExpeditionID: e.ID, CharacterID: ch.ID}, nil
}

func (m *Memory) joinStatus(s model.ExpeditionStatus) bool {
	if s == model.StatusPlanning {
		return true
	}
	return m.lateJoin && (s == model.StatusLocked || s == model.StatusDeparted)
}

// LeaveExpedition implements Client. The last leave returns the expedition
// and moves its whole pool back to the town.
func (m *Memory) LeaveExpedition(ctx context.Context, expeditionID, characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expeditions[expeditionID]
	if !ok {
		return apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if e.Status != model.StatusPlanning && e.Status != model.StatusLocked {
		return apperr.State(string(e.Status), "members can only leave before departure")
	}
	if !e.HasMember(characterID) {
		return apperr.Unauthorized("character is not a member")
	}

	members := e.Members[:0:0]
	for _, mb := range e.Members {
		if mb.CharacterID != characterID {
			members = append(members, mb)
		}
	}
	e.Members = members

	if len(e.Members) == 0 && m.autoTerminate {
		m.drain(e)
		e.Status = model.StatusReturned
	}
	return nil
}

// drain moves the whole expedition pool to its town.
func (m *Memory) drain(e *model.Expedition) {
	pool := m.pools[poolKey{model.PoolExpedition, e.ID}]
	townPool := m.pools[poolKey{model.PoolTown, e.TownID}]
	for id, qty := range pool {
		townPool[id] += qty
		delete(pool, id)
	}
}

// GetExpeditionByID implements Client.
func (m *Memory) GetExpeditionByID(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expeditions[expeditionID]
	if !ok {
		return nil, nil
	}
	out := snapshot(e)
	return &out, nil
}

// GetResources implements Client.
func (m *Memory) GetResources(ctx context.Context, poolType model.PoolType, poolID string) ([]model.ResourceQuantity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[poolKey{poolType, poolID}]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourcePool, fmt.Sprintf("pool %s:%s not found", poolType, poolID))
	}
	out := make([]model.ResourceQuantity, 0, len(pool))
	for id, qty := range pool {
		out = append(out, model.ResourceQuantity{ResourceTypeID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceTypeID < out[j].ResourceTypeID })
	return out, nil
}

// TransferResource implements Client.
func (m *Memory) TransferResource(ctx context.Context, fromType model.PoolType, fromID string, toType model.PoolType, toID string, resourceTypeID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if quantity <= 0 {
		return apperr.Validation("quantity", ">= 1", "quantity must be positive")
	}
	from, ok := m.pools[poolKey{fromType, fromID}]
	if !ok {
		return apperr.NotFound(apperr.ResourcePool, fmt.Sprintf("pool %s:%s not found", fromType, fromID))
	}
	to, ok := m.pools[poolKey{toType, toID}]
	if !ok {
		return apperr.NotFound(apperr.ResourcePool, fmt.Sprintf("pool %s:%s not found", toType, toID))
	}
	for _, k := range []poolKey{{fromType, fromID}, {toType, toID}} {
		if k.typ != model.PoolExpedition {
			continue
		}
		if e := m.expeditions[k.id]; e != nil && (e.Status == model.StatusDeparted || e.Status == model.StatusReturned) {
			return apperr.State(string(e.Status), "expedition pool is closed")
		}
	}
	if from[resourceTypeID] < quantity {
		return apperr.Validation("quantity", fmt.Sprintf("1-%d", from[resourceTypeID]), "not enough stock")
	}

	from[resourceTypeID] -= quantity
	to[resourceTypeID] += quantity
	return nil
}

// ListResourceTypes implements Client.
func (m *Memory) ListResourceTypes(ctx context.Context) ([]model.ResourceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ResourceType(nil), m.resourceTypes...), nil
}

// ToggleEmergencyVote implements Client.
func (m *Memory) ToggleEmergencyVote(ctx context.Context, expeditionID, userID string) (*model.VoteToggle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expeditions[expeditionID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if e.Status != model.StatusDeparted {
		return nil, apperr.State(string(e.Status), "emergency vote is only open during the expedition")
	}
	member := false
	for _, mb := range e.Members {
		if mb.UserID == userID {
			member = true
			break
		}
	}
	if !member {
		return nil, apperr.Unauthorized("user is not a member")
	}

	voters := m.votes[e.ID]
	if voters == nil {
		voters = make(map[string]bool)
		m.votes[e.ID] = voters
	}
	voted := !voters[userID]
	if voted {
		voters[userID] = true
	} else {
		delete(voters, userID)
	}

	total, members := len(voters), len(e.Members)
	threshold := (members + 1) / 2
	return &model.VoteToggle{
		Voted:            voted,
		TotalVotes:       total,
		MembersCount:     members,
		ThresholdReached: total > 0 && total >= threshold,
	}, nil
}

// GetActiveCharacter implements Client.
func (m *Memory) GetActiveCharacter(ctx context.Context, userID, guildID string) (*model.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	townID, ok := m.townByGuild[guildID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceTown, "town not found")
	}
	// A living character wins over a dead one awaiting reroll.
	var found *model.Character
	for _, ch := range m.characters {
		if ch.UserID != userID || ch.TownID != townID {
			continue
		}
		if found == nil || (found.IsDead && !ch.IsDead) {
			found = ch
		}
	}
	if found == nil {
		return nil, nil
	}
	out := *found
	return &out, nil
}

// GetTownByGuild implements Client.
func (m *Memory) GetTownByGuild(ctx context.Context, guildID string) (*model.Town, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	townID, ok := m.townByGuild[guildID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceTown, "town not found")
	}
	out := *m.towns[townID]
	return &out, nil
}

// LockExpedition implements Client.
func (m *Memory) LockExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return m.transition(expeditionID, model.StatusPlanning, model.StatusLocked, func(e *model.Expedition) error {
		if len(e.Members) == 0 {
			return apperr.State(string(e.Status), "cannot lock an expedition without members")
		}
		return nil
	})
}

// DepartExpedition implements Client.
func (m *Memory) DepartExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return m.transition(expeditionID, model.StatusLocked, model.StatusDeparted, func(e *model.Expedition) error {
		returnAt := m.now().UTC().Add(time.Duration(e.DurationDays) * 24 * time.Hour)
		e.ReturnAt = &returnAt
		delete(m.votes, e.ID)
		return nil
	})
}

// ReturnExpedition implements Client.
func (m *Memory) ReturnExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error) {
	return m.transition(expeditionID, model.StatusDeparted, model.StatusReturned, func(e *model.Expedition) error {
		m.drain(e)
		delete(m.votes, e.ID)
		return nil
	})
}

func (m *Memory) transition(expeditionID string, from, to model.ExpeditionStatus, apply func(*model.Expedition) error) (*model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expeditions[expeditionID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if e.Status != from {
		return nil, apperr.State(string(e.Status), fmt.Sprintf("expedition must be %s", from))
	}
	if err := apply(e); err != nil {
		return nil, err
	}
	e.Status = to
	out := snapshot(e)
	return &out, nil
}

// UpdateExpeditionDuration implements Client.
func (m *Memory) UpdateExpeditionDuration(ctx context.Context, expeditionID string, days int) (*model.Expedition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if days < 1 {
		return nil, apperr.Validation("duration", ">= 1", "duration must be at least one day")
	}
	e, ok := m.expeditions[expeditionID]
	if !ok {
		return nil, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if e.Status == model.StatusReturned {
		return nil, apperr.State(string(e.Status), "expedition is over")
	}
	e.DurationDays = days
	out := snapshot(e)
	return &out, nil
}

func snapshot(e *model.Expedition) model.Expedition {
	out := *e
	out.Members = append([]model.Member(nil), e.Members...)
	if e.ReturnAt != nil {
		t := *e.ReturnAt
		out.ReturnAt = &t
	}
	return out
}
