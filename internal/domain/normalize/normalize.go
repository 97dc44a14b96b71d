// Package normalize turns raw feed packages into persisted kill events.
//
// Normalization is the pipeline's write path: it deduplicates, resolves
// external ids to named entities, routes the kill to a fleet, persists it
// and publishes a notification. The feed redelivers packages, so every
// step tolerates seeing the same kill twice; the database unique
// constraint on the kill id is the final arbiter.
package normalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/internal/adapters/repository"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/pkg/logger"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Deduper is the in-memory recently-seen kill id cache.
type Deduper interface {
	SeenAndRecord(ctx context.Context, id int64) bool
	Unrecord(ctx context.Context, id int64)
}

// Resolver resolves external ids to named entities.
type Resolver interface {
	Resolve(ctx context.Context, kind model.EntityKind, id int64) (model.Entity, error)
}

// FleetMatcher routes a kill to exactly one fleet.
type FleetMatcher interface {
	Match(ctx context.Context, kill model.KillEvent, participants []model.Participant) (string, error)
}

// Publisher fans out pipeline notifications.
type Publisher interface {
	Publish(ctx context.Context, n model.Notification)
}

// Store is the slice of the repository the normalizer needs.
type Store interface {
	CreateKill(ctx context.Context, kill model.KillEvent) error
	GetKill(ctx context.Context, killID int64) (model.KillEvent, error)
	EnsureCharacter(ctx context.Context, characterID int64) error
	SetCharacterAffiliation(ctx context.Context, characterID, corporationID int64, allianceID *int64) error
}

// Normalizer converts feed packages into kill events.
type Normalizer struct {
	dedupe   Deduper
	resolver Resolver
	matcher  FleetMatcher
	store    Store
	pub      Publisher
	logger   logger.Logger
}

// Option applies a configuration option to the Normalizer.
type Option func(*Normalizer)

// WithLogger sets a custom logger for the normalizer.
func WithLogger(l logger.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New wires a normalizer from its collaborators.
func New(dedupe Deduper, res Resolver, matcher FleetMatcher, store Store, pub Publisher, opts ...Option) *Normalizer {
	n := &Normalizer{
		dedupe:   dedupe,
		resolver: res,
		matcher:  matcher,
		store:    store,
		pub:      pub,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Get().Named("normalizer")
	}
	return n
}

// Normalize processes one feed package end to end. Heartbeats yield
// (nil, nil). Redelivered kills yield the already-persisted event without
// re-resolving or re-notifying.
func (n *Normalizer) Normalize(ctx context.Context, pkg *feed.Package) (*model.KillEvent, error) {
	if pkg.Empty() {
		metrics.RecordPackageEmpty()
		return nil, nil
	}
	if err := pkg.Validate(); err != nil {
		metrics.RecordPackageRejected()
		return nil, err
	}

	km := pkg.Killmail
	killID := km.KillmailID

	if n.dedupe.SeenAndRecord(ctx, killID) {
		metrics.RecordKillDuplicate()
		existing, err := n.store.GetKill(ctx, killID)
		if err != nil {
			// The cache remembers kills the store never accepted
			// (e.g. a crash between record and insert). Fall through
			// and process it for real.
			n.logger.Warn(ctx, "kill cached as seen but not persisted, reprocessing",
				logger.Int64("killID", killID))
		} else {
			return &existing, nil
		}
	}

	kill, err := n.build(ctx, pkg)
	if err != nil {
		// Without a persisted row the cache entry would suppress the
		// feed's redelivery, losing the kill permanently.
		n.dedupe.Unrecord(ctx, killID)
		return nil, err
	}

	if err := n.store.CreateKill(ctx, *kill); err != nil {
		if errors.Is(err, repository.ErrDuplicateKill) {
			// Lost the insert race with a concurrent worker; the other
			// writer's row is authoritative.
			metrics.RecordKillDuplicate()
			existing, getErr := n.store.GetKill(ctx, killID)
			if getErr != nil {
				return nil, fmt.Errorf("duplicate kill %d not readable: %w", killID, getErr)
			}
			return &existing, nil
		}
		n.dedupe.Unrecord(ctx, killID)
		return nil, fmt.Errorf("persist kill %d: %w", killID, err)
	}

	metrics.RecordKillIngested()
	n.pub.Publish(ctx, model.Notification{Type: model.NotifyKill, Payload: *kill})
	n.logger.Info(ctx, "kill ingested",
		logger.Int64("killID", kill.KillID),
		logger.Int64("systemID", kill.SystemID),
	)
	return kill, nil
}

// build resolves the package's entities and routes it to a fleet.
func (n *Normalizer) build(ctx context.Context, pkg *feed.Package) (*model.KillEvent, error) {
	km := pkg.Killmail

	if _, err := n.resolver.Resolve(ctx, model.KindSystem, km.SolarSystemID); err != nil {
		return nil, err
	}
	if _, err := n.resolver.Resolve(ctx, model.KindShipType, km.Victim.ShipTypeID); err != nil {
		return nil, err
	}
	if km.Victim.CharacterID != 0 {
		if _, err := n.resolver.Resolve(ctx, model.KindCharacter, km.Victim.CharacterID); err != nil {
			return nil, err
		}
	}

	participants := pkg.Participants()
	for _, p := range participants {
		if err := n.store.EnsureCharacter(ctx, p.CharacterID); err != nil {
			return nil, fmt.Errorf("ensure character %d: %w", p.CharacterID, err)
		}
		if p.CorporationID != 0 {
			if err := n.store.SetCharacterAffiliation(ctx, p.CharacterID, p.CorporationID, p.AllianceID); err != nil {
				return nil, fmt.Errorf("record affiliation for character %d: %w", p.CharacterID, err)
			}
		}
	}

	kill := &model.KillEvent{
		KillID:     km.KillmailID,
		Time:       km.KillmailTime.UTC(),
		Position:   km.Victim.Position,
		ShipTypeID: km.Victim.ShipTypeID,
		VictimID:   km.Victim.CharacterID,
		SystemID:   km.SolarSystemID,
	}

	// NPC kills carry no fleet signal: record them, but never create or
	// extend a fleet from NPC aggression.
	if pkg.Zkb.NPC || len(participants) == 0 {
		metrics.RecordKillNPC()
		return kill, nil
	}

	fleetID, err := n.matcher.Match(ctx, *kill, participants)
	if err != nil {
		return nil, err
	}
	kill.FleetID = &fleetID
	return kill, nil
}
