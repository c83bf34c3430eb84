package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

const food = 1

func seeded(opts ...MemoryOption) *Memory {
	m := NewMemory(opts...)
	m.SetResourceTypes([]model.ResourceType{{ID: food, Name: model.ResourceRawFood}})
	m.AddTown(model.Town{ID: "t1", Name: "Port", GuildID: "g1"}, map[int]int{food: 100})
	for _, id := range []string{"c1", "c2", "c3"} {
		m.AddCharacter(model.Character{ID: id, Name: id, UserID: "u-" + id, TownID: "t1"})
	}
	return m
}

func create(t *testing.T, m *Memory, characterID string, qty int) *model.Expedition {
	t.Helper()
	in := model.CreateExpeditionInput{Name: "Nord", TownID: "t1", CharacterID: characterID, DurationDays: 2}
	if qty > 0 {
		in.InitialResources = []model.InitialResource{{ResourceTypeID: food, Quantity: qty}}
	}
	exp, err := m.CreateExpedition(context.Background(), in)
	require.NoError(t, err)
	return exp
}

func TestMemoryCreateSeedsPoolAndJoinsCreator(t *testing.T) {
	m := seeded()
	exp := create(t, m, "c1", 30)

	assert.Equal(t, model.StatusPlanning, exp.Status)
	assert.True(t, exp.HasMember("c1"))
	assert.Equal(t, 70, m.Stock(model.PoolTown, "t1", food))
	assert.Equal(t, 30, m.Stock(model.PoolExpedition, exp.ID, food))
}

func TestMemoryCreateRejectsActiveCharacter(t *testing.T) {
	m := seeded()
	create(t, m, "c1", 0)

	_, err := m.CreateExpedition(context.Background(), model.CreateExpeditionInput{Name: "Sud", TownID: "t1", CharacterID: "c1", DurationDays: 1})
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestMemoryJoinRules(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	exp := create(t, m, "c1", 0)

	_, err := m.JoinExpedition(ctx, exp.ID, "c2")
	require.NoError(t, err)

	_, err = m.JoinExpedition(ctx, exp.ID, "c2")
	assert.ErrorIs(t, err, apperr.ErrState, "second join of the same member")

	_, err = m.JoinExpedition(ctx, "missing", "c3")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = m.LockExpedition(ctx, exp.ID)
	require.NoError(t, err)
	_, err = m.JoinExpedition(ctx, exp.ID, "c3")
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestMemoryLateJoin(t *testing.T) {
	ctx := context.Background()
	m := seeded(WithLateJoin(true))
	exp := create(t, m, "c1", 0)

	_, err := m.LockExpedition(ctx, exp.ID)
	require.NoError(t, err)
	_, err = m.DepartExpedition(ctx, exp.ID)
	require.NoError(t, err)

	member, err := m.JoinExpedition(ctx, exp.ID, "c2")
	require.NoError(t, err)
	assert.Equal(t, exp.ID, member.ExpeditionID)
	assert.Equal(t, "c2", member.CharacterID)

	got, err := m.GetExpeditionByID(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MembersCount())
}

func TestMemoryLastLeaveReturnsAndDrains(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	exp := create(t, m, "c1", 40)

	require.NoError(t, m.LeaveExpedition(ctx, exp.ID, "c1"))
	got, err := m.GetExpeditionByID(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReturned, got.Status)
	assert.Equal(t, 0, got.MembersCount())
	assert.Equal(t, 100, m.Stock(model.PoolTown, "t1", food))
	assert.Equal(t, 0, m.Stock(model.PoolExpedition, exp.ID, food))

	active, err := m.GetActiveExpeditionsForCharacter(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMemoryLeaveWithoutAutoTermination(t *testing.T) {
	m := seeded(WithAutoTermination(false))
	exp := create(t, m, "c1", 10)

	require.NoError(t, m.LeaveExpedition(context.Background(), exp.ID, "c1"))
	got, err := m.GetExpeditionByID(context.Background(), exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPlanning, got.Status)
	assert.Equal(t, 10, m.Stock(model.PoolExpedition, exp.ID, food))
}

func TestMemoryTransferRules(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	exp := create(t, m, "c1", 60)

	err := m.TransferResource(ctx, model.PoolTown, "t1", model.PoolExpedition, exp.ID, food, 41)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = m.TransferResource(ctx, model.PoolTown, "t1", model.PoolExpedition, exp.ID, food, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = m.TransferResource(ctx, model.PoolTown, "t1", model.PoolExpedition, exp.ID, food, 40)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stock(model.PoolTown, "t1", food))
	assert.Equal(t, 100, m.Stock(model.PoolExpedition, exp.ID, food))
	assert.Equal(t, 100, m.TotalStock(food))
}

func TestMemoryVoteToggle(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	exp := create(t, m, "c1", 0)
	_, err := m.JoinExpedition(ctx, exp.ID, "c2")
	require.NoError(t, err)

	_, err = m.ToggleEmergencyVote(ctx, exp.ID, "u-c1")
	assert.ErrorIs(t, err, apperr.ErrState, "vote before departure")

	_, err = m.LockExpedition(ctx, exp.ID)
	require.NoError(t, err)
	_, err = m.DepartExpedition(ctx, exp.ID)
	require.NoError(t, err)

	_, err = m.ToggleEmergencyVote(ctx, exp.ID, "u-c3")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	res, err := m.ToggleEmergencyVote(ctx, exp.ID, "u-c1")
	require.NoError(t, err)
	assert.Equal(t, model.VoteToggle{Voted: true, TotalVotes: 1, MembersCount: 2, ThresholdReached: true}, *res)

	res, err = m.ToggleEmergencyVote(ctx, exp.ID, "u-c1")
	require.NoError(t, err)
	assert.Equal(t, model.VoteToggle{Voted: false, TotalVotes: 0, MembersCount: 2, ThresholdReached: false}, *res)
}

func TestMemoryAdminTransitions(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	exp := create(t, m, "c1", 25)

	_, err := m.DepartExpedition(ctx, exp.ID)
	assert.ErrorIs(t, err, apperr.ErrState)

	_, err = m.LockExpedition(ctx, exp.ID)
	require.NoError(t, err)
	got, err := m.DepartExpedition(ctx, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReturnAt)

	_, err = m.UpdateExpeditionDuration(ctx, exp.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	got, err = m.UpdateExpeditionDuration(ctx, exp.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DurationDays)

	got, err = m.ReturnExpedition(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReturned, got.Status)
	assert.Equal(t, 100, m.Stock(model.PoolTown, "t1", food))

	_, err = m.UpdateExpeditionDuration(ctx, exp.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrState)
}

func TestMemoryCharacterAndTownLookup(t *testing.T) {
	ctx := context.Background()
	m := seeded()

	town, err := m.GetTownByGuild(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "t1", town.ID)

	_, err = m.GetTownByGuild(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ch, err := m.GetActiveCharacter(ctx, "u-c2", "g1")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "c2", ch.ID)

	ch, err = m.GetActiveCharacter(ctx, "stranger", "g1")
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestMemoryListTownExpeditions(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	m.AddTown(model.Town{ID: "t2", Name: "Cap", GuildID: "g2"}, nil)
	first := create(t, m, "c1", 0)
	second := create(t, m, "c2", 0)
	require.NoError(t, m.LeaveExpedition(ctx, second.ID, "c2"))

	list, err := m.ListTownExpeditions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1, "returned expeditions are not listed")
	assert.Equal(t, first.ID, list[0].ID)

	list, err = m.ListTownExpeditions(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = m.ListTownExpeditions(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
