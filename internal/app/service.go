// Package app wires the kill ingestion pipeline together and exposes the
// operations the ops HTTP layer depends on.
package app

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/fleettrack/internal/adapters/directory"
	"github.com/okian/fleettrack/internal/adapters/dispatch"
	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/internal/adapters/mq/queue"
	"github.com/okian/fleettrack/internal/adapters/mq/worker"
	"github.com/okian/fleettrack/internal/adapters/repository"
	"github.com/okian/fleettrack/internal/domain/dedupe"
	"github.com/okian/fleettrack/internal/domain/match"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/internal/domain/normalize"
	"github.com/okian/fleettrack/internal/resolver"
	"github.com/okian/fleettrack/internal/scheduler"
	"github.com/okian/fleettrack/pkg/logger"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Intervals for the maintenance jobs. The poll interval comes from
// configuration because it shapes feed traffic; these only pace local
// database work.
const (
	sweepInterval  = time.Minute
	threatInterval = 30 * time.Second
	dangerInterval = 30 * time.Second
)

// Service owns the pipeline components and their lifecycle.
type Service struct {
	mu sync.RWMutex

	// External endpoints
	databasePath string
	feedURL      string
	directoryURL string
	statsURL     string

	// Tuning
	pollInterval    time.Duration
	fleetExpiry     time.Duration
	sweepStaleAfter time.Duration
	sweepBatchSize  int
	threatBatchSize int
	dangerBatchSize int
	queueSize       int
	workerCount     int
	dedupeSize      int

	// Components
	store      repository.Store
	deduper    dedupe.Deduper
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	pkgQueue   queue.Queue
	pool       *worker.Pool
	runner     *scheduler.Runner

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDatabasePath sets the SQLite database file.
func WithDatabasePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.databasePath = path
		}
	}
}

// WithFeedURL sets the kill feed endpoint.
func WithFeedURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.feedURL = url
		}
	}
}

// WithDirectoryURL sets the entity directory endpoint.
func WithDirectoryURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.directoryURL = url
		}
	}
}

// WithStatsURL sets the character stats endpoint.
func WithStatsURL(url string) Option {
	return func(s *Service) {
		if url != "" {
			s.statsURL = url
		}
	}
}

// WithPollInterval sets the feed re-arm delay.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithFleetExpiry sets how long a fleet may go without a kill before it
// is closed.
func WithFleetExpiry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fleetExpiry = d
		}
	}
}

// WithSweepStaleAfter sets the staleness window of the health sweep.
func WithSweepStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepStaleAfter = d
		}
	}
}

// WithSweepBatchSize sets the health sweep page size.
func WithSweepBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatchSize = n
		}
	}
}

// WithThreatBatchSize sets the threat recompute page size.
func WithThreatBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threatBatchSize = n
		}
	}
}

// WithDangerBatchSize sets the danger refresh page size.
func WithDangerBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dangerBatchSize = n
		}
	}
}

// WithQueueSize sets the package queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithWorkerCount sets the number of normalization workers.
func WithWorkerCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithDedupeSize sets the size of the kill id deduplication cache.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		databasePath:    "fleettrack.db",
		pollInterval:    time.Second,
		fleetExpiry:     5 * time.Minute,
		sweepStaleAfter: 5 * time.Minute,
		sweepBatchSize:  50,
		threatBatchSize: 25,
		dangerBatchSize: 10,
		queueSize:       10000,
		workerCount:     runtime.NumCPU() * 2,
		dedupeSize:      50000,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start builds and launches the pipeline: store, resolver, queue, worker
// pool and the scheduled jobs. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.feedURL == "" || s.directoryURL == "" || s.statsURL == "" {
		return fmt.Errorf("feed, directory and stats endpoints are required")
	}

	s.logger.Info(ctx, "starting kill ingestion service")

	store, err := repository.Open(s.databasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	s.store = store

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.resolver = resolver.New(directory.NewClient(s.directoryURL))
	s.dispatcher = dispatch.New()
	s.pkgQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))

	matcher := match.New(s.store, match.WithLogger(s.logger.Named("matcher")))
	normalizer := normalize.New(
		s.deduper,
		s.resolver,
		matcher,
		s.store,
		s.dispatcher,
		normalize.WithLogger(s.logger.Named("normalizer")),
	)

	s.pool = worker.NewPool(s.workerCount, s.pkgQueue, normalizer)
	s.pool.Start(ctx)

	feedClient := feed.NewClient(s.feedURL)
	statsClient := feed.NewStatsClient(s.statsURL)

	s.runner = scheduler.NewRunner([]scheduler.Job{
		scheduler.NewPollJob(feedClient, s.pkgQueue, s.pollInterval),
		scheduler.NewSweepJob(s.store, s.dispatcher, s.sweepStaleAfter, s.fleetExpiry,
			s.sweepBatchSize, sweepInterval, s.logger.Named("sweep")),
		scheduler.NewThreatJob(s.store, s.dispatcher, s.threatBatchSize, threatInterval),
		scheduler.NewDangerJob(s.store, statsClient, s.dangerBatchSize, dangerInterval,
			s.logger.Named("danger")),
	}, scheduler.WithLogger(s.logger.Named("scheduler")))
	s.runner.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "kill ingestion service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("database", s.databasePath),
	)

	return nil
}

// Stop shuts the pipeline down: jobs first so nothing new is enqueued,
// then the workers drain the queue, then storage closes.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping kill ingestion service")

	if s.runner != nil {
		if err := s.runner.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "scheduler did not stop cleanly", logger.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool did not stop cleanly", logger.Error(err))
		}
	}
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "store close failed", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "kill ingestion service stopped")
}

// Subscribe registers a notification consumer. The cancel function must
// be called when the consumer goes away. Subscribing before the service
// starts yields a closed channel.
func (s *Service) Subscribe() (<-chan model.Notification, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dispatcher == nil {
		ch := make(chan model.Notification)
		close(ch)
		return ch, func() {}
	}
	return s.dispatcher.Subscribe()
}

// FleetMemberView is one fleet member with resolved names and stats.
type FleetMemberView struct {
	CharacterID   int64   `json:"characterID"`
	Name          string  `json:"name"`
	CorporationID int64   `json:"corporationID"`
	AllianceID    *int64  `json:"allianceID,omitempty"`
	DangerRatio   float64 `json:"dangerRatio"`
	ShipTypeID    int64   `json:"shipTypeID"`
	ShipName      string  `json:"shipName"`
}

// FleetView is a fleet enriched with resolved entity names, the shape
// handed to consumers.
type FleetView struct {
	ID          string            `json:"id"`
	SystemID    int64             `json:"systemID"`
	SystemName  string            `json:"systemName"`
	IsActive    bool              `json:"isActive"`
	DangerRatio float64           `json:"dangerRatio"`
	StartTime   time.Time         `json:"startTime"`
	EndTime     *time.Time        `json:"endTime,omitempty"`
	LastSeen    time.Time         `json:"lastSeen"`
	Members     []FleetMemberView `json:"members"`
}

// FleetView loads a fleet and resolves its system, member and ship names.
func (s *Service) FleetView(ctx context.Context, fleetID string) (FleetView, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return FleetView{}, fmt.Errorf("service not started")
	}

	fleet, err := s.store.GetFleet(ctx, fleetID)
	if err != nil {
		return FleetView{}, err
	}

	system, err := s.resolver.Resolve(ctx, model.KindSystem, fleet.SystemID)
	if err != nil {
		return FleetView{}, err
	}

	names, err := s.resolver.ResolveBatch(ctx, model.KindCharacter, fleet.Members)
	if err != nil {
		return FleetView{}, err
	}

	shipIDs := make([]int64, 0, len(fleet.Composition))
	for _, shipTypeID := range fleet.Composition {
		shipIDs = append(shipIDs, shipTypeID)
	}
	ships, err := s.resolver.ResolveBatch(ctx, model.KindShipType, shipIDs)
	if err != nil {
		return FleetView{}, err
	}

	view := FleetView{
		ID:          fleet.ID,
		SystemID:    fleet.SystemID,
		SystemName:  system.Name,
		IsActive:    fleet.IsActive,
		DangerRatio: fleet.DangerRatio,
		StartTime:   fleet.StartTime,
		EndTime:     fleet.EndTime,
		LastSeen:    fleet.LastSeen,
		Members:     make([]FleetMemberView, 0, len(fleet.Members)),
	}

	for _, memberID := range fleet.Members {
		member := FleetMemberView{
			CharacterID: memberID,
			Name:        names[memberID].Name,
			ShipTypeID:  fleet.Composition[memberID],
			ShipName:    ships[fleet.Composition[memberID]].Name,
		}
		// Corporation and danger stats are best-effort: a member row can
		// lag behind the fleet membership.
		if char, err := s.store.GetCharacter(ctx, memberID); err == nil {
			member.CorporationID = char.CorporationID
			member.AllianceID = char.AllianceID
			member.DangerRatio = char.DangerRatio
		}
		view.Members = append(view.Members, member)
	}

	return view, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}

	if !s.started {
		return stats
	}

	stats["queueLength"] = s.pkgQueue.Len(ctx)
	stats["dedupeEntries"] = s.deduper.Size()
	stats["resolverCacheSize"] = s.resolver.CacheSize()
	stats["subscribers"] = s.dispatcher.SubscriberCount()

	if kills, err := s.store.CountKills(ctx); err == nil {
		stats["totalKills"] = kills
	}
	if active, err := s.store.CountActiveFleets(ctx); err == nil {
		stats["activeFleets"] = active
		metrics.UpdateActiveFleets(active)
	}

	return stats
}
