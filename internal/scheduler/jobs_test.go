package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/internal/scheduler"
	"github.com/okian/fleettrack/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeFeed struct {
	pkg *feed.Package
	err error
}

func (f *fakeFeed) Fetch(context.Context) (*feed.Package, error) { return f.pkg, f.err }

type fakeQueue struct {
	accepted []*feed.Package
	full     bool
}

func (q *fakeQueue) Enqueue(_ context.Context, pkg *feed.Package) bool {
	if q.full {
		return false
	}
	q.accepted = append(q.accepted, pkg)
	return true
}

type fakePublisher struct {
	published []model.Notification
}

func (p *fakePublisher) Publish(_ context.Context, n model.Notification) {
	p.published = append(p.published, n)
}

type fakeSweepStore struct {
	stale   []model.Fleet
	expired []string
	touched []string
	active  int

	alreadyInactive map[string]bool
}

func (s *fakeSweepStore) StaleActiveFleets(context.Context, time.Time, int) ([]model.Fleet, error) {
	return s.stale, nil
}

func (s *fakeSweepStore) ExpireFleet(_ context.Context, fleetID string, _ time.Time) (bool, error) {
	if s.alreadyInactive[fleetID] {
		return false, nil
	}
	s.expired = append(s.expired, fleetID)
	return true, nil
}

func (s *fakeSweepStore) TouchFleet(_ context.Context, fleetID string, _ time.Time) error {
	s.touched = append(s.touched, fleetID)
	return nil
}

func (s *fakeSweepStore) CountActiveFleets(context.Context) (int, error) { return s.active, nil }

type fakeThreatStore struct {
	fleets []model.Fleet
	ratios map[string][]float64
	set    map[string]float64
}

func (s *fakeThreatStore) ZeroThreatActiveFleets(context.Context, int) ([]model.Fleet, error) {
	return s.fleets, nil
}

func (s *fakeThreatStore) MemberDangerRatios(_ context.Context, fleetID string) ([]float64, error) {
	return s.ratios[fleetID], nil
}

func (s *fakeThreatStore) SetFleetDangerRatio(_ context.Context, fleetID string, ratio float64) error {
	if s.set == nil {
		s.set = map[string]float64{}
	}
	s.set[fleetID] = ratio
	return nil
}

type fakeStatsStore struct {
	pending []model.Character
	set     map[int64]float64
}

func (s *fakeStatsStore) CharactersNeedingStats(context.Context, int) ([]model.Character, error) {
	return s.pending, nil
}

func (s *fakeStatsStore) SetCharacterStats(_ context.Context, characterID int64, ratio float64, _ time.Time) error {
	if s.set == nil {
		s.set = map[int64]float64{}
	}
	s.set[characterID] = ratio
	return nil
}

type fakeStats struct {
	ratios map[int64]float64
	failOn int64
}

func (s *fakeStats) Character(_ context.Context, characterID int64) (feed.CharacterStats, error) {
	if characterID == s.failOn {
		return feed.CharacterStats{}, errors.New("stats service down")
	}
	return feed.CharacterStats{DangerRatio: s.ratios[characterID]}, nil
}

func testLogger() logger.Logger {
	return logger.Get().Named("test")
}

func TestPollJob(t *testing.T) {
	ctx := context.Background()

	Convey("Given the feed poll job", t, func() {
		q := &fakeQueue{}

		Convey("When the feed returns a kill", func() {
			f := &fakeFeed{pkg: &feed.Package{KillID: 7, Killmail: &feed.Killmail{KillmailID: 7}}}
			job := scheduler.NewPollJob(f, q, time.Second)

			Convey("Then it should be enqueued", func() {
				So(job.Run(ctx), ShouldBeNil)
				So(q.accepted, ShouldHaveLength, 1)
				So(q.accepted[0].KillID, ShouldEqual, 7)
			})
		})

		Convey("When the feed heartbeats", func() {
			job := scheduler.NewPollJob(&fakeFeed{}, q, time.Second)

			Convey("Then nothing should be enqueued and the run succeeds", func() {
				So(job.Run(ctx), ShouldBeNil)
				So(q.accepted, ShouldBeEmpty)
			})
		})

		Convey("When the feed errors", func() {
			job := scheduler.NewPollJob(&fakeFeed{err: errors.New("upstream 502")}, q, time.Second)

			Convey("Then the run should fail", func() {
				So(job.Run(ctx), ShouldNotBeNil)
			})
		})

		Convey("When the queue is full", func() {
			q.full = true
			f := &fakeFeed{pkg: &feed.Package{KillID: 8, Killmail: &feed.Killmail{KillmailID: 8}}}
			job := scheduler.NewPollJob(f, q, time.Second)

			Convey("Then the run should report the refusal", func() {
				So(job.Run(ctx), ShouldNotBeNil)
			})
		})
	})
}

func TestSweepJob(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	Convey("Given the fleet health sweep", t, func() {
		pub := &fakePublisher{}
		store := &fakeSweepStore{
			stale: []model.Fleet{
				{ID: "dead", SystemID: 1, IsActive: true, LastSeen: now.Add(-10 * time.Minute)},
				{ID: "quiet", SystemID: 1, IsActive: true, LastSeen: now.Add(-2 * time.Minute)},
			},
			active: 3,
		}
		job := scheduler.NewSweepJob(store, pub, 5*time.Minute, 5*time.Minute, 50, time.Minute, testLogger())

		Convey("When the sweep runs", func() {
			err := job.Run(ctx)

			Convey("Then fleets past the expiry window should close", func() {
				So(err, ShouldBeNil)
				So(store.expired, ShouldResemble, []string{"dead"})
			})

			Convey("Then fleets still inside the window should be touched", func() {
				So(err, ShouldBeNil)
				So(store.touched, ShouldResemble, []string{"quiet"})
			})

			Convey("Then an expiry notification should go out", func() {
				So(pub.published, ShouldHaveLength, 1)
				So(pub.published[0].Type, ShouldEqual, model.NotifyFleetExpire)
				fleet, ok := pub.published[0].Payload.(model.Fleet)
				So(ok, ShouldBeTrue)
				So(fleet.ID, ShouldEqual, "dead")
				So(fleet.IsActive, ShouldBeFalse)
				So(fleet.EndTime, ShouldNotBeNil)
			})
		})

		Convey("When another sweep already closed the fleet", func() {
			store.alreadyInactive = map[string]bool{"dead": true}
			err := job.Run(ctx)

			Convey("Then no duplicate notification should go out", func() {
				So(err, ShouldBeNil)
				So(pub.published, ShouldBeEmpty)
			})
		})
	})
}

func TestThreatJob(t *testing.T) {
	ctx := context.Background()

	Convey("Given the threat recompute", t, func() {
		pub := &fakePublisher{}
		store := &fakeThreatStore{
			fleets: []model.Fleet{
				{ID: "hot", IsActive: true},
				{ID: "cold", IsActive: true},
			},
			ratios: map[string][]float64{
				"hot":  {80, 0, 40},
				"cold": {0, 0},
			},
		}
		job := scheduler.NewThreatJob(store, pub, 25, time.Minute)

		Convey("When the recompute runs", func() {
			err := job.Run(ctx)

			Convey("Then rated fleets should get the mean of rated members", func() {
				So(err, ShouldBeNil)
				So(store.set["hot"], ShouldEqual, 60)
			})

			Convey("Then fleets with no rated members should stay at zero", func() {
				So(store.set["cold"], ShouldEqual, 0)
			})

			Convey("Then both fleets should be announced with their ratio", func() {
				So(pub.published, ShouldHaveLength, 2)
				first, ok := pub.published[0].Payload.(model.Fleet)
				So(ok, ShouldBeTrue)
				So(first.DangerRatio, ShouldEqual, 60)
				So(pub.published[0].Type, ShouldEqual, model.NotifyFleet)
			})
		})
	})
}

func TestDangerJob(t *testing.T) {
	ctx := context.Background()

	Convey("Given the danger refresh", t, func() {
		store := &fakeStatsStore{
			pending: []model.Character{
				{CharacterID: 100},
				{CharacterID: 200},
				{CharacterID: 300},
			},
		}
		stats := &fakeStats{
			ratios: map[int64]float64{100: 75, 300: 20},
			failOn: 200,
		}
		job := scheduler.NewDangerJob(store, stats, 10, time.Minute, testLogger())

		Convey("When the refresh runs", func() {
			err := job.Run(ctx)

			Convey("Then fetched ratios should be persisted", func() {
				So(err, ShouldBeNil)
				So(store.set[100], ShouldEqual, 75)
				So(store.set[300], ShouldEqual, 20)
			})

			Convey("Then a failed fetch should skip only that character", func() {
				So(store.set, ShouldNotContainKey, int64(200))
				So(store.set, ShouldHaveLength, 2)
			})
		})
	})
}
