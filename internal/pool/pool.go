// Package pool reads resource pools from the backend. It never caches: every
// call re-reads the authoritative quantities.
package pool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"expedition-bot/internal/backend"
	"expedition-bot/internal/model"
	"expedition-bot/internal/pkg/apperr"
)

// Ref identifies a pool.
type Ref struct {
	Type model.PoolType
	ID   string
}

// Town returns the pool of town id.
func Town(id string) Ref { return Ref{Type: model.PoolTown, ID: id} }

// Expedition returns the pool of expedition id.
func Expedition(id string) Ref { return Ref{Type: model.PoolExpedition, ID: id} }

func (r Ref) String() string {
	return string(r.Type) + ":" + r.ID
}

// ParseRef parses the String form of a Ref.
func ParseRef(s string) (Ref, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Ref{}, apperr.Validation("pool", "CITY:<id>|EXPEDITION:<id>", fmt.Sprintf("invalid pool reference %q", s))
	}
	switch model.PoolType(typ) {
	case model.PoolTown, model.PoolExpedition:
		return Ref{Type: model.PoolType(typ), ID: id}, nil
	}
	return Ref{}, apperr.Validation("pool", "CITY|EXPEDITION", fmt.Sprintf("unknown pool type %q", typ))
}

// Pool is a snapshot of quantities by resource type id.
type Pool struct {
	Ref        Ref
	Quantities map[int]int
}

// Quantity returns the quantity of resourceTypeID, zero when absent.
func (p Pool) Quantity(resourceTypeID int) int {
	return p.Quantities[resourceTypeID]
}

// Positive returns the entries with a positive quantity, sorted by type id.
func (p Pool) Positive() []model.ResourceQuantity {
	out := make([]model.ResourceQuantity, 0, len(p.Quantities))
	for id, qty := range p.Quantities {
		if qty > 0 {
			out = append(out, model.ResourceQuantity{ResourceTypeID: id, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceTypeID < out[j].ResourceTypeID })
	return out
}

// Total sums every quantity of the pool.
func (p Pool) Total() int {
	total := 0
	for _, qty := range p.Quantities {
		total += qty
	}
	return total
}

// Accessor reads pools through the backend.
type Accessor struct {
	client backend.Client
}

// NewAccessor creates an Accessor.
func NewAccessor(client backend.Client) *Accessor {
	return &Accessor{client: client}
}

// Get reads the current content of ref.
func (a *Accessor) Get(ctx context.Context, ref Ref) (Pool, error) {
	rows, err := a.client.GetResources(ctx, ref.Type, ref.ID)
	if err != nil {
		return Pool{}, fmt.Errorf("failed to read pool %s: %w", ref, err)
	}
	p := Pool{Ref: ref, Quantities: make(map[int]int, len(rows))}
	for _, r := range rows {
		p.Quantities[r.ResourceTypeID] += r.Quantity
	}
	return p, nil
}

// Available returns the current quantity of one resource type in ref.
func (a *Accessor) Available(ctx context.Context, ref Ref, resourceTypeID int) (int, error) {
	p, err := a.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	return p.Quantity(resourceTypeID), nil
}
