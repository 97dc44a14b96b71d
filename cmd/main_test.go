package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/fleettrack/internal/adapters/http/api"
	"github.com/okian/fleettrack/internal/app"
	"github.com/okian/fleettrack/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRouteWiring(t *testing.T) {
	Convey("Given the wired ops routes", t, func() {
		So(logger.Init(), ShouldBeNil)

		svc := app.New()
		mux := http.NewServeMux()
		api.NewServer(svc).Register(mux)
		ts := httptest.NewServer(mux)
		Reset(ts.Close)

		Convey("When probing the health endpoint", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it should answer before the pipeline starts", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When reading stats from an idle service", func() {
			resp, err := http.Get(ts.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then static configuration should be served", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
			})
		})
	})
}
