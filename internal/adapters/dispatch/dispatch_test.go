package dispatch_test

import (
	"context"
	"testing"

	"github.com/okian/fleettrack/internal/adapters/dispatch"
	"github.com/okian/fleettrack/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDispatcher(t *testing.T) {
	Convey("Given a dispatcher", t, func() {
		d := dispatch.New()
		Reset(d.Close)

		Convey("When publishing to two subscribers", func() {
			ch1, cancel1 := d.Subscribe()
			ch2, cancel2 := d.Subscribe()
			Reset(func() { cancel1(); cancel2() })

			d.Publish(context.Background(), model.Notification{
				Type:    model.NotifyKill,
				Payload: model.KillEvent{KillID: 500},
			})

			Convey("Then both should receive the notification", func() {
				n1 := <-ch1
				n2 := <-ch2
				So(n1.Type, ShouldEqual, model.NotifyKill)
				So(n2.Type, ShouldEqual, model.NotifyKill)
				kill, ok := n1.Payload.(model.KillEvent)
				So(ok, ShouldBeTrue)
				So(kill.KillID, ShouldEqual, 500)
			})
		})

		Convey("When a subscriber cancels", func() {
			ch, cancel := d.Subscribe()
			cancel()

			Convey("Then its channel should be closed and it should be removed", func() {
				_, open := <-ch
				So(open, ShouldBeFalse)
				So(d.SubscriberCount(), ShouldEqual, 0)
			})

			Convey("And publishing should not panic", func() {
				So(func() {
					d.Publish(context.Background(), model.Notification{Type: model.NotifyFleet})
				}, ShouldNotPanic)
			})
		})

		Convey("When a subscriber is slow", func() {
			d := dispatch.New(dispatch.WithSubscriberBuffer(1))
			ch, cancel := d.Subscribe()
			Reset(cancel)

			d.Publish(context.Background(), model.Notification{Type: model.NotifyFleet})
			d.Publish(context.Background(), model.Notification{Type: model.NotifyFleetExpire})

			Convey("Then the overflow should be dropped, not block", func() {
				first := <-ch
				So(first.Type, ShouldEqual, model.NotifyFleet)
				select {
				case n := <-ch:
					So(n, ShouldBeZeroValue) // unreachable, second publish was dropped
				default:
					So(true, ShouldBeTrue)
				}
			})
		})

		Convey("When the dispatcher is closed", func() {
			ch, _ := d.Subscribe()
			d.Close()

			Convey("Then subscriber channels should close", func() {
				_, open := <-ch
				So(open, ShouldBeFalse)
			})

			Convey("Then late subscriptions should come back closed", func() {
				late, _ := d.Subscribe()
				_, open := <-late
				So(open, ShouldBeFalse)
			})
		})
	})
}
