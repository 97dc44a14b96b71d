// Package model contains domain models passed between layers.
package model

import "time"

// Position is a location inside a solar system.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// KillEvent is a recorded destruction of a player-controlled ship.
// Immutable once created; exactly one record exists per KillID.
type KillEvent struct {
	KillID     int64     // external id, primary dedup key
	Time       time.Time // kill timestamp from the feed
	Position   Position
	ShipTypeID int64   // resolved victim ship type
	VictimID   int64   // resolved victim character
	SystemID   int64   // resolved solar system
	FleetID    *string // nil for NPC-only kills
}

// Character is a pilot known to the pipeline.
type Character struct {
	CharacterID     int64
	CorporationID   int64
	AllianceID      *int64
	DangerRatio     float64
	LastStatsUpdate *time.Time
	FleetID         *string
}

// Fleet is a transient, system-scoped grouping of characters inferred
// from co-occurrence in kills. Fleets are never deleted; inactive is a
// terminal state reached only through the health sweep.
type Fleet struct {
	ID          string
	SystemID    int64
	Members     []int64         // ordered by first appearance
	Composition map[int64]int64 // characterID -> shipTypeID
	IsActive    bool
	DangerRatio float64
	StartTime   time.Time
	EndTime     *time.Time
	UpdatedAt   time.Time
	LastSeen    time.Time
}

// HasMember reports whether the character is part of the fleet.
func (f *Fleet) HasMember(characterID int64) bool {
	for _, id := range f.Members {
		if id == characterID {
			return true
		}
	}
	return false
}

// EntityKind discriminates reference entities handled by the resolver.
type EntityKind string

// Resolvable entity kinds.
const (
	KindCharacter EntityKind = "character"
	KindShipType  EntityKind = "shipType"
	KindSystem    EntityKind = "system"
	KindCelestial EntityKind = "celestial"
)

// UnknownName is the sentinel returned when every lookup path for an
// entity's display name fails.
const UnknownName = "Unknown"

// Entity is a resolved reference record: an external id plus display name.
type Entity struct {
	ID   int64
	Name string
	Kind EntityKind
}

// Participant is a non-NPC pilot involved in a kill, with the ship they
// were flying. The matcher treats victim and attackers alike.
// CorporationID and AllianceID come from the killmail and may be absent.
type Participant struct {
	CharacterID   int64
	ShipTypeID    int64
	CorporationID int64
	AllianceID    *int64
}

// NotificationType enumerates the events pushed to subscribers.
type NotificationType string

// Notification types.
const (
	NotifyKill        NotificationType = "kill"
	NotifyFleet       NotificationType = "fleet"
	NotifyFleetExpire NotificationType = "fleet_expire"
)

// Notification is the envelope fanned out to subscribers. Payload is a
// KillEvent for kill notifications and a Fleet for the fleet kinds.
type Notification struct {
	Type    NotificationType `json:"type"`
	Payload any              `json:"payload"`
}
