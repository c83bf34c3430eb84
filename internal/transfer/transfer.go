// Package transfer moves resources between pools through the backend.
//
// The backend moves one resource type per call. A multi-resource transfer is
// run as a saga: every leg is validated against fresh availability before the
// first call, legs are executed in order, and execution stops at the first
// failure. The Result tells exactly which legs moved.
package transfer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
	"expedition-bot/internal/pkg/events"
	"expedition-bot/internal/pool"
)

// Leg is one resource type to move.
type Leg struct {
	ResourceTypeID int
	// Name labels the leg in validation errors. Optional.
	Name     string
	Quantity int
}

func (l Leg) field() string {
	if l.Name != "" {
		return l.Name
	}
	return fmt.Sprintf("ressource %d", l.ResourceTypeID)
}

// LegStatus is the outcome of one leg.
type LegStatus string

const (
	Moved        LegStatus = "MOVED"
	Failed       LegStatus = "FAILED"
	NotAttempted LegStatus = "NOT_ATTEMPTED"
)

// LegResult is one leg and what happened to it.
type LegResult struct {
	Leg
	Status LegStatus
	Err    error
}

// Result reports a multi-resource transfer per leg.
type Result struct {
	From pool.Ref
	To   pool.Ref
	Legs []LegResult
}

// Complete reports whether every leg moved.
func (r Result) Complete() bool {
	for _, l := range r.Legs {
		if l.Status != Moved {
			return false
		}
	}
	return true
}

// Partial reports whether some legs moved and others did not.
func (r Result) Partial() bool {
	moved := len(r.Moved())
	return moved > 0 && moved < len(r.Legs)
}

// Moved returns the legs that were applied.
func (r Result) Moved() []Leg {
	return r.filter(func(s LegStatus) bool { return s == Moved })
}

// Pending returns the legs that were not applied, failed or not attempted.
func (r Result) Pending() []Leg {
	return r.filter(func(s LegStatus) bool { return s != Moved })
}

func (r Result) filter(keep func(LegStatus) bool) []Leg {
	var out []Leg
	for _, l := range r.Legs {
		if keep(l.Status) {
			out = append(out, l.Leg)
		}
	}
	return out
}

// Coordinator validates and runs transfers.
type Coordinator struct {
	client    backend.Client
	pools     *pool.Accessor
	publisher events.Publisher
}

// NewCoordinator creates a Coordinator. publisher may be nil.
func NewCoordinator(client backend.Client, pools *pool.Accessor, publisher events.Publisher) *Coordinator {
	return &Coordinator{client: client, pools: pools, publisher: publisher}
}

// Transfer moves quantity of one resource type from one pool to another.
func (c *Coordinator) Transfer(ctx context.Context, from, to pool.Ref, resourceTypeID, quantity int) error {
	_, err := c.TransferMany(ctx, from, to, []Leg{{ResourceTypeID: resourceTypeID, Quantity: quantity}})
	return err
}

// TransferMany validates every leg, then runs them in order. A validation
// failure returns an error before any backend call. An execution failure
// returns the Result so far together with the failing leg's error.
func (c *Coordinator) TransferMany(ctx context.Context, from, to pool.Ref, legs []Leg) (Result, error) {
	res := Result{From: from, To: to, Legs: make([]LegResult, len(legs))}
	for i, l := range legs {
		res.Legs[i] = LegResult{Leg: l, Status: NotAttempted}
	}

	if len(legs) == 0 {
		return res, apperr.Validation("quantités", ">= 1 ressource", "nothing to transfer")
	}
	if from == to {
		return res, apperr.Validation("destination", "une autre réserve", "source and destination are the same pool")
	}

	// Availability is re-read right before validation, never taken from the
	// caller's last view.
	src, err := c.pools.Get(ctx, from)
	if err != nil {
		return res, err
	}
	seen := make(map[int]bool, len(legs))
	for _, l := range legs {
		if l.Quantity <= 0 {
			return res, apperr.Validation(l.field(), fmt.Sprintf("1-%d", src.Quantity(l.ResourceTypeID)), "quantity must be positive")
		}
		if seen[l.ResourceTypeID] {
			return res, apperr.Validation(l.field(), "une fois", "resource listed twice")
		}
		seen[l.ResourceTypeID] = true
		if avail := src.Quantity(l.ResourceTypeID); l.Quantity > avail {
			rng := fmt.Sprintf("1-%d", avail)
			if avail == 0 {
				rng = "0"
			}
			return res, apperr.Validation(l.field(), rng, fmt.Sprintf("only %d available", avail))
		}
	}

	for i := range res.Legs {
		leg := &res.Legs[i]
		err := c.client.TransferResource(ctx, from.Type, from.ID, to.Type, to.ID, leg.ResourceTypeID, leg.Quantity)
		if err != nil {
			leg.Status = Failed
			leg.Err = err
			c.reportFailure(ctx, res, i)
			return res, fmt.Errorf("failed to transfer %s: %w", leg.field(), err)
		}
		leg.Status = Moved
		c.emit(ctx, events.Transferred, res, map[string]any{
			"resource_type_id": leg.ResourceTypeID,
			"quantity":         leg.Quantity,
			"from":             from.String(),
			"to":               to.String(),
		})
	}
	return res, nil
}

func (c *Coordinator) reportFailure(ctx context.Context, res Result, failed int) {
	leg := res.Legs[failed]
	log.Error().
		Err(leg.Err).
		Str("from", res.From.String()).
		Str("to", res.To.String()).
		Int("resource_type_id", leg.ResourceTypeID).
		Int("quantity", leg.Quantity).
		Int("moved_legs", len(res.Moved())).
		Int("pending_legs", len(res.Pending())).
		Msg("Transfer leg failed")

	if !res.Partial() {
		return
	}
	moved := make([]int, 0, len(res.Legs))
	for _, l := range res.Moved() {
		moved = append(moved, l.ResourceTypeID)
	}
	pending := make([]int, 0, len(res.Legs))
	for _, l := range res.Pending() {
		pending = append(pending, l.ResourceTypeID)
	}
	c.emit(ctx, events.PartialTransfer, res, map[string]any{
		"from":    res.From.String(),
		"to":      res.To.String(),
		"moved":   moved,
		"pending": pending,
	})
}

func (c *Coordinator) emit(ctx context.Context, typ events.Type, res Result, data map[string]any) {
	expeditionID := ""
	switch {
	case res.From.Type == model.PoolExpedition:
		expeditionID = res.From.ID
	case res.To.Type == model.PoolExpedition:
		expeditionID = res.To.ID
	}
	events.Emit(ctx, c.publisher, events.Event{Type: typ, ExpeditionID: expeditionID, Data: data})
}

// Restitute moves every positive quantity of an expedition pool back to
// its town. An empty pool is a complete no-op.
func (c *Coordinator) Restitute(ctx context.Context, expeditionID, townID string) (Result, error) {
	from, to := pool.Expedition(expeditionID), pool.Town(townID)
	src, err := c.pools.Get(ctx, from)
	if err != nil {
		return Result{From: from, To: to}, err
	}
	positive := src.Positive()
	if len(positive) == 0 {
		return Result{From: from, To: to}, nil
	}

	legs := make([]Leg, 0, len(positive))
	for _, r := range positive {
		legs = append(legs, Leg{ResourceTypeID: r.ResourceTypeID, Quantity: r.Quantity})
	}
	return c.TransferMany(ctx, from, to, legs)
}
