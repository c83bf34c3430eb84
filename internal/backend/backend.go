// Package backend talks to the game backend, the source of truth for
// expeditions, characters, towns and resource pools.
package backend

import (
	"context"

	"expedition-bot/internal/model"
)

// Client is the backend contract used by the expedition core.
//
// Lookups that find nothing return (nil, nil) where a missing entity is a
// valid outcome (GetExpeditionByID after termination, GetActiveCharacter for
// a user without character). Every other failure is an *apperr.Error.
type Client interface {
	GetActiveExpeditionsForCharacter(ctx context.Context, characterID string) ([]model.Expedition, error)
	CreateExpedition(ctx context.Context, in model.CreateExpeditionInput) (*model.Expedition, error)
	// ListTownExpeditions returns the non-returned expeditions of a town.
	ListTownExpeditions(ctx context.Context, townID string) ([]model.Expedition, error)
	// JoinExpedition and LeaveExpedition answer with the membership row only.
	// Callers re-read the expedition to learn the resulting state.
	JoinExpedition(ctx context.Context, expeditionID, characterID string) (*model.ExpeditionMember, error)
	LeaveExpedition(ctx context.Context, expeditionID, characterID string) error
	GetExpeditionByID(ctx context.Context, expeditionID string) (*model.Expedition, error)

	GetResources(ctx context.Context, poolType model.PoolType, poolID string) ([]model.ResourceQuantity, error)
	TransferResource(ctx context.Context, fromType model.PoolType, fromID string, toType model.PoolType, toID string, resourceTypeID, quantity int) error
	ListResourceTypes(ctx context.Context) ([]model.ResourceType, error)

	ToggleEmergencyVote(ctx context.Context, expeditionID, userID string) (*model.VoteToggle, error)

	GetActiveCharacter(ctx context.Context, userID, guildID string) (*model.Character, error)
	GetTownByGuild(ctx context.Context, guildID string) (*model.Town, error)

	LockExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error)
	DepartExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error)
	ReturnExpedition(ctx context.Context, expeditionID string) (*model.Expedition, error)
	UpdateExpeditionDuration(ctx context.Context, expeditionID string, days int) (*model.Expedition, error)
}
