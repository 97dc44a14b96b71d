package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/internal/domain/threat"
	"github.com/okian/fleettrack/pkg/logger"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Feed pulls one package per call from the upstream kill feed.
type Feed interface {
	Fetch(ctx context.Context) (*feed.Package, error)
}

// Enqueuer hands packages to the normalization pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, pkg *feed.Package) bool
}

// Publisher fans out pipeline notifications.
type Publisher interface {
	Publish(ctx context.Context, n model.Notification)
}

// Stats fetches a character's danger ratio from the stats service.
type Stats interface {
	Character(ctx context.Context, characterID int64) (feed.CharacterStats, error)
}

// SweepStore is the repository slice the fleet health sweep needs.
type SweepStore interface {
	StaleActiveFleets(ctx context.Context, cutoff time.Time, limit int) ([]model.Fleet, error)
	ExpireFleet(ctx context.Context, fleetID string, endTime time.Time) (bool, error)
	TouchFleet(ctx context.Context, fleetID string, at time.Time) error
	CountActiveFleets(ctx context.Context) (int, error)
}

// ThreatStore is the repository slice the threat recompute needs.
type ThreatStore interface {
	ZeroThreatActiveFleets(ctx context.Context, limit int) ([]model.Fleet, error)
	MemberDangerRatios(ctx context.Context, fleetID string) ([]float64, error)
	SetFleetDangerRatio(ctx context.Context, fleetID string, ratio float64) error
}

// StatsStore is the repository slice the danger refresh needs.
type StatsStore interface {
	CharactersNeedingStats(ctx context.Context, limit int) ([]model.Character, error)
	SetCharacterStats(ctx context.Context, characterID int64, ratio float64, at time.Time) error
}

// NewPollJob builds the feed poll job: one fetch per interval, handing the
// package to the queue. The feed holds the request open until a kill
// arrives or its own timeout elapses, so a short interval only bounds the
// re-arm delay, not the request rate.
func NewPollJob(f Feed, q Enqueuer, every time.Duration) Job {
	return Job{
		Name:  "feed-poll",
		Every: every,
		Run: func(ctx context.Context) error {
			pkg, err := f.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			if pkg == nil {
				metrics.RecordPackageEmpty()
				return nil
			}
			if !q.Enqueue(ctx, pkg) {
				// The feed redelivers unacknowledged kills; refusing
				// under backpressure is safe.
				return fmt.Errorf("queue refused kill %d", pkg.KillID)
			}
			return nil
		},
	}
}

// NewSweepJob builds the fleet health sweep: active fleets that have not
// been updated within staleAfter are examined, and those without a kill in
// the expiry window are closed. Fleets that are stale but still within the
// window get their update stamp refreshed so the next sweep does not
// rescan them immediately.
func NewSweepJob(store SweepStore, pub Publisher, staleAfter, expiry time.Duration, batch int, every time.Duration, log logger.Logger) Job {
	return Job{
		Name:  "fleet-sweep",
		Every: every,
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			fleets, err := store.StaleActiveFleets(ctx, now.Add(-staleAfter), batch)
			if err != nil {
				return fmt.Errorf("list stale fleets: %w", err)
			}

			for i := range fleets {
				fleet := fleets[i]
				if now.Sub(fleet.LastSeen) < expiry {
					if err := store.TouchFleet(ctx, fleet.ID, now); err != nil {
						log.Warn(ctx, "touch failed, fleet stays stale",
							logger.String("fleetID", fleet.ID),
							logger.Error(err),
						)
					}
					continue
				}

				expired, err := store.ExpireFleet(ctx, fleet.ID, now)
				if err != nil {
					log.Warn(ctx, "expire failed, next sweep retries",
						logger.String("fleetID", fleet.ID),
						logger.Error(err),
					)
					continue
				}
				if !expired {
					// Another sweep got there first.
					continue
				}

				metrics.RecordFleetExpired()
				fleet.IsActive = false
				fleet.EndTime = &now
				pub.Publish(ctx, model.Notification{Type: model.NotifyFleetExpire, Payload: fleet})
				log.Info(ctx, "fleet expired",
					logger.String("fleetID", fleet.ID),
					logger.Int64("systemID", fleet.SystemID),
				)
			}

			active, err := store.CountActiveFleets(ctx)
			if err != nil {
				return fmt.Errorf("count active fleets: %w", err)
			}
			metrics.UpdateActiveFleets(active)
			return nil
		},
	}
}

// NewThreatJob builds the fleet threat recompute: active fleets whose
// danger ratio is still zero get a fresh aggregate from their members'
// ratios. A fleet whose members are all unrated stays at zero and is
// picked up again on a later pass, once the danger refresh has rated them.
func NewThreatJob(store ThreatStore, pub Publisher, batch int, every time.Duration) Job {
	return Job{
		Name:  "threat-recompute",
		Every: every,
		Run: func(ctx context.Context) error {
			fleets, err := store.ZeroThreatActiveFleets(ctx, batch)
			if err != nil {
				return fmt.Errorf("list unrated fleets: %w", err)
			}

			for i := range fleets {
				fleet := fleets[i]
				ratios, err := store.MemberDangerRatios(ctx, fleet.ID)
				if err != nil {
					return fmt.Errorf("member ratios for fleet %s: %w", fleet.ID, err)
				}

				ratio := threat.FleetRatio(ratios)
				if err := store.SetFleetDangerRatio(ctx, fleet.ID, ratio); err != nil {
					return fmt.Errorf("set ratio for fleet %s: %w", fleet.ID, err)
				}

				fleet.DangerRatio = ratio
				pub.Publish(ctx, model.Notification{Type: model.NotifyFleet, Payload: fleet})
			}
			return nil
		},
	}
}

// NewDangerJob builds the character danger refresh: characters seen in
// kills but never rated get their danger ratio pulled from the stats
// service. A failed fetch skips that character, the rest of the batch
// still proceeds.
func NewDangerJob(store StatsStore, stats Stats, batch int, every time.Duration, log logger.Logger) Job {
	return Job{
		Name:  "danger-refresh",
		Every: every,
		Run: func(ctx context.Context) error {
			chars, err := store.CharactersNeedingStats(ctx, batch)
			if err != nil {
				return fmt.Errorf("list unrated characters: %w", err)
			}

			now := time.Now().UTC()
			for _, c := range chars {
				cs, err := stats.Character(ctx, c.CharacterID)
				if err != nil {
					log.Warn(ctx, "stats fetch failed, skipping character",
						logger.Int64("characterID", c.CharacterID),
						logger.Error(err),
					)
					continue
				}
				if err := store.SetCharacterStats(ctx, c.CharacterID, cs.DangerRatio, now); err != nil {
					return fmt.Errorf("set stats for character %d: %w", c.CharacterID, err)
				}
			}
			return nil
		},
	}
}
