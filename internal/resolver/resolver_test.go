package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/okian/fleettrack/internal/adapters/directory"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/internal/resolver"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeDirectory counts calls so memoization can be asserted.
type fakeDirectory struct {
	characters map[int64]string
	types      map[int64]string
	systems    map[int64]string
	stargates  map[int64]string
	celestials map[int64]directory.CelestialRecord
	names      map[int64]string

	calls map[string]int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		characters: map[int64]string{},
		types:      map[int64]string{},
		systems:    map[int64]string{},
		stargates:  map[int64]string{},
		celestials: map[int64]directory.CelestialRecord{},
		names:      map[int64]string{},
		calls:      map[string]int{},
	}
}

func (f *fakeDirectory) lookup(kind string, m map[int64]string, id int64) (directory.Record, error) {
	f.calls[kind]++
	name, ok := m[id]
	if !ok {
		return directory.Record{}, fmt.Errorf("%w: id %d", directory.ErrNoMatch, id)
	}
	return directory.Record{ID: id, Name: name}, nil
}

func (f *fakeDirectory) Character(_ context.Context, id int64) (directory.Record, error) {
	return f.lookup("character", f.characters, id)
}

func (f *fakeDirectory) Type(_ context.Context, id int64) (directory.Record, error) {
	return f.lookup("type", f.types, id)
}

func (f *fakeDirectory) System(_ context.Context, id int64) (directory.Record, error) {
	return f.lookup("system", f.systems, id)
}

func (f *fakeDirectory) Stargate(_ context.Context, id int64) (directory.Record, error) {
	return f.lookup("stargate", f.stargates, id)
}

func (f *fakeDirectory) Celestial(_ context.Context, id int64) (directory.CelestialRecord, error) {
	f.calls["celestial"]++
	rec, ok := f.celestials[id]
	if !ok {
		return directory.CelestialRecord{}, fmt.Errorf("%w: celestial %d", directory.ErrNoMatch, id)
	}
	return rec, nil
}

func (f *fakeDirectory) Names(_ context.Context, ids []int64) ([]directory.NameRef, error) {
	f.calls["names"]++
	out := make([]directory.NameRef, 0, len(ids))
	for _, id := range ids {
		name, ok := f.names[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", directory.ErrNoMatch, id)
		}
		out = append(out, directory.NameRef{ID: id, Name: name})
	}
	return out, nil
}

func TestResolve(t *testing.T) {
	Convey("Given a resolver over a fake directory", t, func() {
		dir := newFakeDirectory()
		dir.systems[30] = "Jita"
		dir.characters[10] = "Pilot Ten"
		r := resolver.New(dir)

		Convey("When resolving the same system twice", func() {
			first, err1 := r.Resolve(context.Background(), model.KindSystem, 30)
			second, err2 := r.Resolve(context.Background(), model.KindSystem, 30)

			Convey("Then the second resolution should come from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Name, ShouldEqual, "Jita")
				So(second, ShouldResemble, first)
				So(dir.calls["system"], ShouldEqual, 1)
			})
		})

		Convey("When the directory has no match", func() {
			_, err := r.Resolve(context.Background(), model.KindCharacter, 999)

			Convey("Then a resolution error should be signaled", func() {
				So(err, ShouldNotBeNil)
				So(resolver.IsResolutionError(err), ShouldBeTrue)
				So(errors.Is(err, resolver.ErrResolution), ShouldBeTrue)
			})

			Convey("And the failure should not be cached", func() {
				dir.characters[999] = "Late Pilot"
				e, err := r.Resolve(context.Background(), model.KindCharacter, 999)
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Late Pilot")
			})
		})

		Convey("When resolving an unknown kind", func() {
			_, err := r.Resolve(context.Background(), model.EntityKind("planet"), 1)

			Convey("Then it should fail", func() {
				So(resolver.IsResolutionError(err), ShouldBeTrue)
			})
		})
	})
}

func TestResolveCelestial(t *testing.T) {
	Convey("Given celestial resolution", t, func() {
		dir := newFakeDirectory()
		r := resolver.New(dir)

		Convey("When the directory labels the celestial", func() {
			dir.celestials[41] = directory.CelestialRecord{ItemID: 41, TypeID: 15, Name: "Asteroid Belt I"}

			e, err := r.Resolve(context.Background(), model.KindCelestial, 41)

			Convey("Then the label should be used directly", func() {
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Asteroid Belt I")
			})
		})

		Convey("When the celestial is a nameless stargate", func() {
			dir.celestials[40] = directory.CelestialRecord{ItemID: 40, TypeID: 16}
			dir.types[16] = "Stargate (Caldari System)"
			dir.stargates[40] = "Stargate (Perimeter)"

			e, err := r.Resolve(context.Background(), model.KindCelestial, 40)

			Convey("Then the stargate lookup should recover the name", func() {
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Stargate (Perimeter)")
				So(dir.calls["type"], ShouldEqual, 1)
				So(dir.calls["stargate"], ShouldEqual, 1)
			})
		})

		Convey("When the fallback chain fails entirely", func() {
			dir.celestials[42] = directory.CelestialRecord{ItemID: 42, TypeID: 17}
			// No type record: the fallback dead-ends.

			e, err := r.Resolve(context.Background(), model.KindCelestial, 42)

			Convey("Then the literal Unknown sentinel should be returned, not an error", func() {
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Unknown")
			})
		})

		Convey("When the nameless celestial is not a stargate", func() {
			dir.celestials[43] = directory.CelestialRecord{ItemID: 43, TypeID: 18}
			dir.types[18] = "Beacon"

			e, err := r.Resolve(context.Background(), model.KindCelestial, 43)

			Convey("Then it should degrade to Unknown without the stargate lookup", func() {
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Unknown")
				So(dir.calls["stargate"], ShouldEqual, 0)
			})
		})

		Convey("When the celestial lookup itself fails", func() {
			e, err := r.Resolve(context.Background(), model.KindCelestial, 999)

			Convey("Then the caller should still get Unknown", func() {
				So(err, ShouldBeNil)
				So(e.Name, ShouldEqual, "Unknown")
			})
		})
	})
}

func TestResolveBatch(t *testing.T) {
	Convey("Given batch resolution", t, func() {
		dir := newFakeDirectory()
		dir.names[20] = "Rifter"
		dir.names[21] = "Thrasher"
		r := resolver.New(dir)

		Convey("When resolving with duplicate ids", func() {
			got, err := r.ResolveBatch(context.Background(), model.KindShipType, []int64{20, 21, 20, 21})

			Convey("Then ids should be deduplicated before the upstream call", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[20].Name, ShouldEqual, "Rifter")
				So(got[21].Name, ShouldEqual, "Thrasher")
				So(dir.calls["names"], ShouldEqual, 1)
			})
		})

		Convey("When part of the batch is already cached", func() {
			_, err := r.ResolveBatch(context.Background(), model.KindShipType, []int64{20})
			So(err, ShouldBeNil)
			dir.names[22] = "Catalyst"

			got, err := r.ResolveBatch(context.Background(), model.KindShipType, []int64{20, 22})

			Convey("Then only the missing ids should hit the directory", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(dir.calls["names"], ShouldEqual, 2) // one per batch, cached id excluded
			})
		})

		Convey("When all ids are cached", func() {
			_, err := r.ResolveBatch(context.Background(), model.KindShipType, []int64{20, 21})
			So(err, ShouldBeNil)
			before := dir.calls["names"]

			got, err := r.ResolveBatch(context.Background(), model.KindShipType, []int64{20, 21})

			Convey("Then no upstream call should happen", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(dir.calls["names"], ShouldEqual, before)
			})
		})
	})
}
