package normalize_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/internal/adapters/repository"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/internal/domain/normalize"
	"github.com/okian/fleettrack/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeDedupe struct {
	seen       map[int64]bool
	unrecorded []int64
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{seen: map[int64]bool{}}
}

func (d *fakeDedupe) SeenAndRecord(_ context.Context, id int64) bool {
	was := d.seen[id]
	d.seen[id] = true
	return was
}

func (d *fakeDedupe) Unrecord(_ context.Context, id int64) {
	delete(d.seen, id)
	d.unrecorded = append(d.unrecorded, id)
}

type fakeResolver struct {
	calls int
	fail  model.EntityKind
}

func (r *fakeResolver) Resolve(_ context.Context, kind model.EntityKind, id int64) (model.Entity, error) {
	r.calls++
	if kind == r.fail {
		return model.Entity{}, errors.New("directory down")
	}
	return model.Entity{ID: id, Name: "resolved", Kind: kind}, nil
}

type fakeMatcher struct {
	fleetID string
	calls   int
	err     error
}

func (m *fakeMatcher) Match(_ context.Context, _ model.KillEvent, _ []model.Participant) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.fleetID, nil
}

type fakeStore struct {
	kills        map[int64]model.KillEvent
	characters   map[int64]bool
	affiliations map[int64]int64
	createErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{kills: map[int64]model.KillEvent{}, characters: map[int64]bool{}}
}

func (s *fakeStore) CreateKill(_ context.Context, kill model.KillEvent) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, dup := s.kills[kill.KillID]; dup {
		return repository.ErrDuplicateKill
	}
	s.kills[kill.KillID] = kill
	return nil
}

func (s *fakeStore) GetKill(_ context.Context, killID int64) (model.KillEvent, error) {
	kill, ok := s.kills[killID]
	if !ok {
		return model.KillEvent{}, repository.ErrNotFound
	}
	return kill, nil
}

func (s *fakeStore) EnsureCharacter(_ context.Context, characterID int64) error {
	s.characters[characterID] = true
	return nil
}

func (s *fakeStore) SetCharacterAffiliation(_ context.Context, characterID, corporationID int64, _ *int64) error {
	if s.affiliations == nil {
		s.affiliations = map[int64]int64{}
	}
	s.affiliations[characterID] = corporationID
	return nil
}

type fakePublisher struct {
	published []model.Notification
}

func (p *fakePublisher) Publish(_ context.Context, n model.Notification) {
	p.published = append(p.published, n)
}

func playerKill(killID int64) *feed.Package {
	return &feed.Package{
		KillID: killID,
		Killmail: &feed.Killmail{
			KillmailID:    killID,
			KillmailTime:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			SolarSystemID: 30000142,
			Victim: feed.Victim{
				CharacterID:   100,
				CorporationID: 1000,
				ShipTypeID:    587,
				Position:      model.Position{X: 1, Y: 2, Z: 3},
			},
			Attackers: []feed.Attacker{
				{CharacterID: 200, CorporationID: 2000, AllianceID: 99, ShipTypeID: 670, FinalBlow: true},
				{CharacterID: 0, ShipTypeID: 30215}, // NPC
			},
		},
	}
}

func TestNormalize(t *testing.T) {
	ctx := context.Background()

	Convey("Given a normalizer", t, func() {
		dedupe := newFakeDedupe()
		res := &fakeResolver{}
		matcher := &fakeMatcher{fleetID: "fleet-1"}
		store := newFakeStore()
		pub := &fakePublisher{}
		n := normalize.New(dedupe, res, matcher, store, pub)

		Convey("When processing a heartbeat", func() {
			kill, err := n.Normalize(ctx, nil)

			Convey("Then nothing should happen", func() {
				So(err, ShouldBeNil)
				So(kill, ShouldBeNil)
				So(pub.published, ShouldBeEmpty)
			})
		})

		Convey("When processing a malformed package", func() {
			pkg := playerKill(900)
			pkg.Killmail.SolarSystemID = 0
			_, err := n.Normalize(ctx, pkg)

			Convey("Then it should be rejected before any side effect", func() {
				So(errors.Is(err, feed.ErrMalformedPackage), ShouldBeTrue)
				So(store.kills, ShouldBeEmpty)
				So(res.calls, ShouldEqual, 0)
			})
		})

		Convey("When processing a fresh player kill", func() {
			kill, err := n.Normalize(ctx, playerKill(900))

			Convey("Then it should be persisted, routed and announced", func() {
				So(err, ShouldBeNil)
				So(kill, ShouldNotBeNil)
				So(kill.KillID, ShouldEqual, 900)
				So(kill.FleetID, ShouldNotBeNil)
				So(*kill.FleetID, ShouldEqual, "fleet-1")
				So(store.kills, ShouldContainKey, int64(900))
				So(store.characters[100], ShouldBeTrue)
				So(store.characters[200], ShouldBeTrue)
				So(store.characters, ShouldNotContainKey, int64(0))
				So(store.affiliations[100], ShouldEqual, 1000)
				So(store.affiliations[200], ShouldEqual, 2000)
				So(pub.published, ShouldHaveLength, 1)
				So(pub.published[0].Type, ShouldEqual, model.NotifyKill)
			})

			Convey("And redelivering the same kill should be a no-op", func() {
				again, err := n.Normalize(ctx, playerKill(900))

				So(err, ShouldBeNil)
				So(again.KillID, ShouldEqual, 900)
				So(res.calls, ShouldEqual, 3) // no re-resolution
				So(matcher.calls, ShouldEqual, 1)
				So(pub.published, ShouldHaveLength, 1)
			})
		})

		Convey("When processing an NPC kill", func() {
			pkg := playerKill(901)
			pkg.Zkb.NPC = true
			kill, err := n.Normalize(ctx, pkg)

			Convey("Then it should persist without touching fleets", func() {
				So(err, ShouldBeNil)
				So(kill.FleetID, ShouldBeNil)
				So(matcher.calls, ShouldEqual, 0)
				So(store.kills, ShouldContainKey, int64(901))
				So(pub.published, ShouldHaveLength, 1)
			})
		})

		Convey("When entity resolution fails", func() {
			res.fail = model.KindSystem
			_, err := n.Normalize(ctx, playerKill(902))

			Convey("Then the kill should stay replayable", func() {
				So(err, ShouldNotBeNil)
				So(dedupe.unrecorded, ShouldContain, int64(902))
				So(store.kills, ShouldBeEmpty)
				So(pub.published, ShouldBeEmpty)
			})
		})

		Convey("When fleet matching fails", func() {
			matcher.err = errors.New("db locked")
			_, err := n.Normalize(ctx, playerKill(903))

			Convey("Then the kill should stay replayable", func() {
				So(err, ShouldNotBeNil)
				So(dedupe.unrecorded, ShouldContain, int64(903))
				So(store.kills, ShouldBeEmpty)
			})
		})

		Convey("When a concurrent worker wins the insert race", func() {
			store.kills[904] = model.KillEvent{KillID: 904, SystemID: 30000142}
			kill, err := n.Normalize(ctx, playerKill(904))

			Convey("Then the persisted row should be returned unchanged", func() {
				So(err, ShouldBeNil)
				So(kill.KillID, ShouldEqual, 904)
				So(kill.FleetID, ShouldBeNil)
				So(pub.published, ShouldBeEmpty)
			})
		})

		Convey("When the cache claims seen but the store has no row", func() {
			dedupe.seen[905] = true
			kill, err := n.Normalize(ctx, playerKill(905))

			Convey("Then the kill should be processed for real", func() {
				So(err, ShouldBeNil)
				So(kill.KillID, ShouldEqual, 905)
				So(store.kills, ShouldContainKey, int64(905))
				So(pub.published, ShouldHaveLength, 1)
			})
		})
	})
}
