// Package model defines the data models mirrored from the game backend.
// The backend is the source of truth; these structs only carry what the
// bot needs to validate an action before calling it.
package model

import "time"

// ExpeditionStatus is the lifecycle status of an expedition.
type ExpeditionStatus string

// Expedition statuses in lifecycle order.
const (
	StatusPlanning ExpeditionStatus = "PLANNING"
	StatusLocked   ExpeditionStatus = "LOCKED"
	StatusDeparted ExpeditionStatus = "DEPARTED"
	StatusReturned ExpeditionStatus = "RETURNED"
)

// Active reports whether the status still counts towards membership.
func (s ExpeditionStatus) Active() bool {
	return s != StatusReturned
}

// Valid reports whether s is a known status.
func (s ExpeditionStatus) Valid() bool {
	switch s {
	case StatusPlanning, StatusLocked, StatusDeparted, StatusReturned:
		return true
	}
	return false
}

// Expedition represents a temporary group activity with its own pool.
type Expedition struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Status       ExpeditionStatus `json:"status"`
	DurationDays int              `json:"duration"`
	TownID       string           `json:"townId"`
	CreatedBy    string           `json:"createdBy"`
	Members      []Member         `json:"members"`
	CreatedAt    time.Time        `json:"createdAt"`
	ReturnAt     *time.Time       `json:"returnAt,omitempty"`
}

// Member is one character listed in an expedition.
type Member struct {
	CharacterID string `json:"characterId"`
	Name        string `json:"name"`
	UserID      string `json:"userId"`
}

// ExpeditionMember is the membership row the backend answers to a join.
type ExpeditionMember struct {
	ID           string `json:"id"`
	ExpeditionID string `json:"expeditionId"`
	CharacterID  string `json:"characterId"`
}

// MembersCount returns the number of members.
func (e *Expedition) MembersCount() int {
	return len(e.Members)
}

// HasMember reports whether characterID is listed in the member set.
func (e *Expedition) HasMember(characterID string) bool {
	for _, m := range e.Members {
		if m.CharacterID == characterID {
			return true
		}
	}
	return false
}

// Character is the actor's active in-game character.
type Character struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	UserID string `json:"userId"`
	TownID string `json:"townId"`
	IsDead bool   `json:"isDead"`
}

// Town is the persistent settlement of a guild.
type Town struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GuildID string `json:"guildId"`
}

// ResourceType describes one kind of pooled resource.
type ResourceType struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

// PoolType is the location type of a resource pool as the backend names it.
type PoolType string

// Pool location types.
const (
	PoolTown       PoolType = "CITY"
	PoolExpedition PoolType = "EXPEDITION"
)

// ResourceQuantity is one row of a pool.
type ResourceQuantity struct {
	ResourceTypeID int `json:"resourceTypeId"`
	Quantity       int `json:"quantity"`
}

// InitialResource seeds a new expedition pool from the town.
type InitialResource struct {
	ResourceTypeID int `json:"resourceTypeId"`
	Quantity       int `json:"quantity"`
}

// CreateExpeditionInput is the payload of an expedition creation.
type CreateExpeditionInput struct {
	Name             string            `json:"name"`
	TownID           string            `json:"townId"`
	CharacterID      string            `json:"characterId"`
	CreatedBy        string            `json:"createdBy"`
	DurationDays     int               `json:"duration"`
	InitialResources []InitialResource `json:"initialResources"`
}

// VoteToggle is the backend answer to an emergency vote toggle.
type VoteToggle struct {
	Voted            bool `json:"voted"`
	TotalVotes       int  `json:"totalVotes"`
	MembersCount     int  `json:"membersCount"`
	ThresholdReached bool `json:"thresholdReached"`
}

// Well-known resource type names transferred in pairs by some flows.
const (
	ResourceRawFood      = "Vivres"
	ResourcePreparedMeal = "Repas"
)
