// Package repository defines persistent storage for kills, fleets and
// characters, and its errors.
package repository

import (
	"context"
	"time"

	"github.com/okian/fleettrack/internal/domain/model"
)

// Store provides read/write access to the pipeline's persistent state.
//
// Fleet and character rows are mutated by several jobs concurrently; every
// multi-field mutation is a single statement or a transaction, and state
// transitions guard on the current state (e.g. expiry only flips rows that
// are still active) so concurrent sweeps cannot double-apply them.
type Store interface {
	// CreateKill persists a new kill event exactly once per KillID.
	// A second insert for the same KillID returns ErrDuplicateKill.
	CreateKill(ctx context.Context, kill model.KillEvent) error

	// GetKill returns the kill with the given external id.
	// Returns ErrNotFound if no such kill was persisted.
	GetKill(ctx context.Context, killID int64) (model.KillEvent, error)

	// CreateFleet persists a new active fleet with its seed members and
	// stamps each member character's fleet id.
	CreateFleet(ctx context.Context, fleet model.Fleet) error

	// GetFleet returns one fleet with members and composition.
	GetFleet(ctx context.Context, id string) (model.Fleet, error)

	// ActiveFleetsBySystem returns all active fleets in a system.
	ActiveFleetsBySystem(ctx context.Context, systemID int64) ([]model.Fleet, error)

	// StaleActiveFleets returns up to limit active fleets whose UpdatedAt
	// is older than the cutoff, oldest first.
	StaleActiveFleets(ctx context.Context, cutoff time.Time, limit int) ([]model.Fleet, error)

	// ExtendFleet merges the participants into the fleet's membership and
	// composition and refreshes LastSeen/UpdatedAt, in one transaction.
	ExtendFleet(ctx context.Context, fleetID string, participants []model.Participant, seenAt time.Time) error

	// ExpireFleet transitions an active fleet to inactive and stamps its
	// end time. Returns false if the fleet was already inactive, making
	// the Active -> Inactive transition exactly-once under concurrency.
	ExpireFleet(ctx context.Context, fleetID string, endTime time.Time) (bool, error)

	// TouchFleet refreshes a fleet's UpdatedAt so the health sweep does
	// not immediately rescan it.
	TouchFleet(ctx context.Context, fleetID string, at time.Time) error

	// ZeroThreatActiveFleets returns up to limit active fleets whose
	// danger ratio is still unset or zero.
	ZeroThreatActiveFleets(ctx context.Context, limit int) ([]model.Fleet, error)

	// SetFleetDangerRatio persists a recomputed fleet danger ratio.
	SetFleetDangerRatio(ctx context.Context, fleetID string, ratio float64) error

	// CountActiveFleets returns the number of active fleets.
	CountActiveFleets(ctx context.Context) (int, error)

	// CountKills returns the number of persisted kill events.
	CountKills(ctx context.Context) (int, error)

	// EnsureCharacter creates a character row if it does not exist yet.
	EnsureCharacter(ctx context.Context, characterID int64) error

	// SetCharacterAffiliation records a character's corporation and
	// alliance as observed on a killmail.
	SetCharacterAffiliation(ctx context.Context, characterID, corporationID int64, allianceID *int64) error

	// GetCharacter returns one character. Returns ErrNotFound when unknown.
	GetCharacter(ctx context.Context, characterID int64) (model.Character, error)

	// SetCharacterStats persists a fetched danger ratio and the fetch time.
	SetCharacterStats(ctx context.Context, characterID int64, ratio float64, at time.Time) error

	// CharactersNeedingStats returns up to limit characters with an unset
	// danger ratio and no prior stats fetch.
	CharactersNeedingStats(ctx context.Context, limit int) ([]model.Character, error)

	// MemberDangerRatios returns the danger ratios of a fleet's members.
	MemberDangerRatios(ctx context.Context, fleetID string) ([]float64, error)

	// Close releases the underlying database handle.
	Close() error
}
