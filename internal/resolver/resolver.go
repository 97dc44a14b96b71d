// Package resolver translates external numeric ids into named local
// entities, memoizing every successful lookup for the process lifetime.
//
// The cache has no eviction: reference data (systems, ship types,
// celestials, character names) is small and changes rarely, so a bounded
// cache would only add complexity. Entries are immutable once stored;
// a racing double-fill is harmless (last writer wins).
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/okian/fleettrack/internal/adapters/directory"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Directory is the slice of the lookup service the resolver needs.
type Directory interface {
	Character(ctx context.Context, id int64) (directory.Record, error)
	Type(ctx context.Context, id int64) (directory.Record, error)
	System(ctx context.Context, id int64) (directory.Record, error)
	Stargate(ctx context.Context, id int64) (directory.Record, error)
	Celestial(ctx context.Context, id int64) (directory.CelestialRecord, error)
	Names(ctx context.Context, ids []int64) ([]directory.NameRef, error)
}

// Resolver memoizes directory lookups per entity kind.
type Resolver struct {
	dir Directory

	mu    sync.RWMutex
	cache map[model.EntityKind]map[int64]model.Entity
}

// New creates a resolver backed by the given directory.
func New(dir Directory) *Resolver {
	return &Resolver{
		dir: dir,
		cache: map[model.EntityKind]map[int64]model.Entity{
			model.KindCharacter: {},
			model.KindShipType:  {},
			model.KindSystem:    {},
			model.KindCelestial: {},
		},
	}
}

// Resolve returns the entity for the given kind and external id, from
// cache when possible. Celestial resolution never fails: when every
// lookup path is exhausted it yields the "Unknown" sentinel instead.
func (r *Resolver) Resolve(ctx context.Context, kind model.EntityKind, id int64) (model.Entity, error) {
	if e, ok := r.cached(kind, id); ok {
		metrics.RecordResolverCacheHit(string(kind))
		return e, nil
	}
	metrics.RecordResolverCacheMiss(string(kind))

	var (
		name string
		err  error
	)
	switch kind {
	case model.KindCharacter:
		var rec directory.Record
		rec, err = r.dir.Character(ctx, id)
		name = rec.Name
	case model.KindShipType:
		var rec directory.Record
		rec, err = r.dir.Type(ctx, id)
		name = rec.Name
	case model.KindSystem:
		var rec directory.Record
		rec, err = r.dir.System(ctx, id)
		name = rec.Name
	case model.KindCelestial:
		// Celestials degrade to a sentinel, never an error.
		name = r.celestialName(ctx, id)
	default:
		return model.Entity{}, fmt.Errorf("%w: unknown kind %q", ErrResolution, kind)
	}
	if err != nil {
		metrics.RecordResolverError()
		return model.Entity{}, fmt.Errorf("%w: %s %d: %w", ErrResolution, kind, id, err)
	}

	e := model.Entity{ID: id, Name: name, Kind: kind}
	r.store(kind, e)
	return e, nil
}

// ResolveBatch resolves a set of ids of one kind, deduplicating before the
// upstream batch call and serving cached ids locally.
func (r *Resolver) ResolveBatch(ctx context.Context, kind model.EntityKind, ids []int64) (map[int64]model.Entity, error) {
	out := make(map[int64]model.Entity, len(ids))

	var missing []int64
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := r.cached(kind, id); ok {
			metrics.RecordResolverCacheHit(string(kind))
			out[id] = e
			continue
		}
		metrics.RecordResolverCacheMiss(string(kind))
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	refs, err := r.dir.Names(ctx, missing)
	if err != nil {
		metrics.RecordResolverError()
		return nil, fmt.Errorf("%w: batch %s: %w", ErrResolution, kind, err)
	}

	resolved := make(map[int64]string, len(refs))
	for _, ref := range refs {
		resolved[ref.ID] = ref.Name
	}
	for _, id := range missing {
		name, ok := resolved[id]
		if !ok {
			return nil, fmt.Errorf("%w: batch %s: no name for id %d", ErrResolution, kind, id)
		}
		e := model.Entity{ID: id, Name: name, Kind: kind}
		r.store(kind, e)
		out[id] = e
	}
	return out, nil
}

// celestialName recovers a display name for a celestial object.
//
// The upstream directory does not label stargates: when the lookup comes
// back nameless, the object's type decides the fallback. A stargate type
// gets a secondary lookup on the stargate record itself; anything else
// (or any failure along the way) degrades to the "Unknown" sentinel so
// kill ingestion never aborts on a naming gap.
func (r *Resolver) celestialName(ctx context.Context, id int64) string {
	rec, err := r.dir.Celestial(ctx, id)
	if err != nil {
		metrics.RecordResolverError()
		return model.UnknownName
	}
	if rec.Name != "" {
		return rec.Name
	}

	metrics.RecordResolverFallback()
	typ, err := r.dir.Type(ctx, rec.TypeID)
	if err != nil || !strings.Contains(typ.Name, "Stargate") {
		return model.UnknownName
	}

	gate, err := r.dir.Stargate(ctx, rec.ItemID)
	if err != nil || gate.Name == "" {
		return model.UnknownName
	}
	return gate.Name
}

func (r *Resolver) cached(kind model.EntityKind, id int64) (model.Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byKind, ok := r.cache[kind]
	if !ok {
		return model.Entity{}, false
	}
	e, ok := byKind[id]
	return e, ok
}

func (r *Resolver) store(kind model.EntityKind, e model.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKind, ok := r.cache[kind]
	if !ok {
		byKind = make(map[int64]model.Entity)
		r.cache[kind] = byKind
	}
	byKind[e.ID] = e
}

// CacheSize returns the number of memoized entities across all kinds.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byKind := range r.cache {
		n += len(byKind)
	}
	return n
}

// IsResolutionError reports whether err is a resolution failure.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrResolution)
}
