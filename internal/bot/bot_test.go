package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/expedition"
	"expedition-bot/internal/handler"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/lock"
	"expedition-bot/internal/session"
)

const (
	testChat int64 = -100
	testUser int64 = 7
)

// newTestBot wires a Bot without Telegram around a seeded memory backend.
func newTestBot(t *testing.T) *Bot {
	t.Helper()
	m := backend.NewMemory()
	m.SetResourceTypes([]model.ResourceType{{ID: 1, Name: model.ResourceRawFood}})
	m.AddTown(model.Town{ID: "t1", Name: "Port", GuildID: "-100"}, map[int]int{1: 50})
	m.AddCharacter(model.Character{ID: "c7", Name: "Ana", UserID: "7", TownID: "t1"})

	svc := expedition.NewService(m, nil, expedition.Policy{})
	d := handler.NewDispatcher(svc, handler.Stores{
		Creates:   session.NewMemory[handler.CreateDraft]("cr_", session.DefaultTTL),
		Transfers: session.NewMemory[handler.TransferDraft]("tr_", session.DefaultTTL),
		Forms:     session.NewMemory[handler.PendingForm]("fm_", session.FormTTL),
	})
	return &Bot{dispatcher: d, userLock: lock.New[int64]()}
}

func TestAnswerWhileBusyKeepsPendingForm(t *testing.T) {
	ctx := context.Background()
	b := newTestBot(t)
	c := group(testChat, testUser)
	actor := newActor(c)

	require.NoError(t, b.dispatcher.Dispatch(ctx, actor, handler.CreateAction{}))
	require.Len(t, c.replies, 1, "name prompt")

	// Another interaction of the same user holds the lock.
	require.True(t, b.userLock.TryLock(testUser))
	handled, err := b.answer(ctx, testUser, actor, "Nord")
	assert.ErrorIs(t, err, lock.ErrBusy)
	assert.False(t, handled)
	b.userLock.Unlock(testUser)

	handled, err = b.answer(ctx, testUser, actor, "Nord")
	require.NoError(t, err)
	assert.True(t, handled, "the form survived the busy attempt")
	require.Len(t, c.replies, 2)
	assert.Contains(t, c.replies[1], "Combien de jours")
}

func TestAnswerWithoutPendingForm(t *testing.T) {
	b := newTestBot(t)
	c := group(testChat, testUser)

	handled, err := b.answer(context.Background(), testUser, newActor(c), "bonjour")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, c.replies)
}

func TestReplySurvivesFailedCallbackAck(t *testing.T) {
	c := group(testChat, testUser)
	c.callback = &tele.Callback{Data: "\fexp_vote|exp-1"}
	c.respondErr = errors.New("query is too old")

	err := newActor(c).Reply(context.Background(), handler.Message{Text: "🗳️ Vote enregistré"})
	require.NoError(t, err)
	assert.Equal(t, []string{"🗳️ Vote enregistré"}, c.replies)
	assert.Empty(t, c.responses)
}
