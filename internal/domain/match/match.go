// Package match decides which fleet a kill belongs to.
package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/pkg/logger"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Store is the slice of the repository the matcher needs.
type Store interface {
	ActiveFleetsBySystem(ctx context.Context, systemID int64) ([]model.Fleet, error)
	CreateFleet(ctx context.Context, fleet model.Fleet) error
	ExtendFleet(ctx context.Context, fleetID string, participants []model.Participant, seenAt time.Time) error
}

// Matcher extends an existing active fleet or starts a new one.
type Matcher struct {
	store  Store
	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Matcher.
type Option func(*Matcher)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the matcher.
func WithLogger(l logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a matcher over the given store.
func New(store Store, opts ...Option) *Matcher {
	m := &Matcher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("matcher")
	}
	return m
}

// Match routes a kill to exactly one fleet: the active fleet in the kill's
// system sharing the most participants, or a brand-new fleet when none
// intersect.
//
// Overlap with more than one fleet is resolved deterministically: most
// shared members wins, ties go to the fleet with the earliest start time.
func (m *Matcher) Match(ctx context.Context, kill model.KillEvent, participants []model.Participant) (string, error) {
	if len(participants) == 0 {
		return "", ErrNoParticipants
	}

	fleets, err := m.store.ActiveFleetsBySystem(ctx, kill.SystemID)
	if err != nil {
		return "", fmt.Errorf("match kill %d: %w", kill.KillID, err)
	}

	if best := selectFleet(fleets, participants); best != nil {
		if err := m.store.ExtendFleet(ctx, best.ID, participants, m.now().UTC()); err != nil {
			return "", fmt.Errorf("extend fleet %s: %w", best.ID, err)
		}
		metrics.RecordFleetExtended()
		m.logger.Debug(ctx, "kill matched to existing fleet",
			logger.Int64("killID", kill.KillID),
			logger.String("fleetID", best.ID),
		)
		return best.ID, nil
	}

	now := m.now().UTC()
	fleet := model.Fleet{
		ID:          uuid.NewString(),
		SystemID:    kill.SystemID,
		Members:     make([]int64, 0, len(participants)),
		Composition: make(map[int64]int64, len(participants)),
		IsActive:    true,
		StartTime:   now,
		UpdatedAt:   now,
		LastSeen:    now,
	}
	for _, p := range participants {
		if _, dup := fleet.Composition[p.CharacterID]; dup {
			continue
		}
		fleet.Members = append(fleet.Members, p.CharacterID)
		fleet.Composition[p.CharacterID] = p.ShipTypeID
	}

	if err := m.store.CreateFleet(ctx, fleet); err != nil {
		return "", fmt.Errorf("create fleet for kill %d: %w", kill.KillID, err)
	}
	metrics.RecordFleetCreated()
	m.logger.Debug(ctx, "kill seeded a new fleet",
		logger.Int64("killID", kill.KillID),
		logger.String("fleetID", fleet.ID),
		logger.Int("members", len(fleet.Members)),
	)
	return fleet.ID, nil
}

// selectFleet picks the fleet with the largest participant overlap,
// breaking ties by earliest start time. Returns nil when nothing overlaps.
func selectFleet(fleets []model.Fleet, participants []model.Participant) *model.Fleet {
	var best *model.Fleet
	bestOverlap := 0

	for i := range fleets {
		fleet := &fleets[i]
		overlap := 0
		for _, p := range participants {
			if fleet.HasMember(p.CharacterID) {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		switch {
		case overlap > bestOverlap:
			best = fleet
			bestOverlap = overlap
		case overlap == bestOverlap && fleet.StartTime.Before(best.StartTime):
			best = fleet
		}
	}
	return best
}
