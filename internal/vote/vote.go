// Package vote tracks the emergency-return quorum of departed expeditions.
package vote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/pkg/events"
)

// Threshold returns the number of votes needed out of members: ceil(members/2).
func Threshold(members int) int {
	if members <= 0 {
		return 0
	}
	return (members + 1) / 2
}

// Reached reports whether total votes meet the threshold for members.
// No votes never reach a quorum, even for an empty member set.
func Reached(total, members int) bool {
	return total > 0 && total >= Threshold(members)
}

// Result is the outcome of a toggle.
type Result struct {
	Voted            bool
	TotalVotes       int
	MembersCount     int
	Threshold        int
	ThresholdReached bool
	// Milestone is set on the toggle that crossed the threshold upwards.
	Milestone bool
}

// Tracker toggles votes and remembers which expeditions are above threshold.
type Tracker struct {
	client    backend.Client
	publisher events.Publisher

	mu sync.Mutex
	// crossed maps an expedition above threshold to the departure episode
	// in which it crossed.
	crossed map[string]string
}

// NewTracker creates a Tracker. publisher may be nil.
func NewTracker(client backend.Client, publisher events.Publisher) *Tracker {
	return &Tracker{
		client:    client,
		publisher: publisher,
		crossed:   make(map[string]string),
	}
}

// Toggle flips the vote of userID on expeditionID.
func (t *Tracker) Toggle(ctx context.Context, expeditionID, userID string) (Result, error) {
	exp, err := t.client.GetExpeditionByID(ctx, expeditionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read expedition: %w", err)
	}
	if exp == nil {
		return Result{}, apperr.NotFound(apperr.ResourceExpedition, "expedition not found")
	}
	if exp.Status != model.StatusDeparted {
		t.Reset(expeditionID)
		return Result{}, apperr.State(string(exp.Status), "emergency vote is only open during the expedition")
	}

	raw, err := t.client.ToggleEmergencyVote(ctx, expeditionID, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to toggle vote: %w", err)
	}

	// The quorum is recomputed from the member count of this answer, never
	// from a count cached when voting started.
	res := Result{
		Voted:        raw.Voted,
		TotalVotes:   raw.TotalVotes,
		MembersCount: raw.MembersCount,
		Threshold:    Threshold(raw.MembersCount),
	}
	res.ThresholdReached = Reached(res.TotalVotes, res.MembersCount)
	if res.ThresholdReached != raw.ThresholdReached {
		log.Warn().
			Str("expedition_id", expeditionID).
			Int("total_votes", res.TotalVotes).
			Int("members_count", res.MembersCount).
			Bool("backend_reached", raw.ThresholdReached).
			Msg("Backend quorum disagrees with local arithmetic")
	}

	ep := episode(exp)
	t.mu.Lock()
	prev, was := t.crossed[expeditionID]
	res.Milestone = res.ThresholdReached && (!was || prev != ep)
	if res.ThresholdReached {
		t.crossed[expeditionID] = ep
	} else {
		delete(t.crossed, expeditionID)
	}
	t.mu.Unlock()

	events.Emit(ctx, t.publisher, events.Event{
		Type:         events.VoteToggled,
		ExpeditionID: expeditionID,
		ActorID:      userID,
		Data: map[string]any{
			"voted":         res.Voted,
			"total_votes":   res.TotalVotes,
			"members_count": res.MembersCount,
			"threshold":     res.Threshold,
		},
	})
	if res.Milestone {
		events.Emit(ctx, t.publisher, events.Event{
			Type:         events.ThresholdMet,
			ExpeditionID: expeditionID,
			ActorID:      userID,
			Data: map[string]any{
				"total_votes":   res.TotalVotes,
				"members_count": res.MembersCount,
			},
		})
	}
	return res, nil
}

// Observe drops the milestone state of an expedition read in any status but
// DEPARTED, which covers returns applied by the game server's own scheduler.
func (t *Tracker) Observe(exp *model.Expedition) {
	if exp == nil || exp.Status == model.StatusDeparted {
		return
	}
	t.Reset(exp.ID)
}

// episode identifies one departure of exp by its planned return.
func episode(exp *model.Expedition) string {
	if exp.ReturnAt == nil {
		return ""
	}
	return exp.ReturnAt.UTC().Format(time.RFC3339Nano)
}

// Reset forgets the milestone state of expeditionID. It is called whenever
// the expedition leaves DEPARTED so a later departure starts fresh.
func (t *Tracker) Reset(expeditionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.crossed, expeditionID)
}
