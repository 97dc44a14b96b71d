package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/fleettrack/internal/config"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoad(t *testing.T) {
	Convey("Given the config loader", t, func() {
		// Keep the process env clean between cases.
		unset := func() {
			os.Unsetenv("FLEETTRACK_CONFIG")
			os.Unsetenv("FLEETTRACK_ADDR")
			os.Unsetenv("FLEETTRACK_FLEET_EXPIRY")
			os.Unsetenv("FLEETTRACK_SWEEP_BATCH_SIZE")
		}
		unset()
		Reset(unset)

		Convey("When loading with no file and no env", func() {
			cfg, err := config.Load(context.Background())

			Convey("Then defaults should survive", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9080")
				So(cfg.FleetExpiry, ShouldEqual, 5*time.Minute)
			})
		})

		Convey("When env vars override defaults", func() {
			os.Setenv("FLEETTRACK_ADDR", ":7070")
			os.Setenv("FLEETTRACK_SWEEP_BATCH_SIZE", "5")

			cfg, err := config.Load(context.Background())

			Convey("Then the env values should win", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":7070")
				So(cfg.SweepBatchSize, ShouldEqual, 5)
			})
		})

		Convey("When a YAML file is provided", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			yaml := "addr: \":6060\"\nfleet_expiry: 10m\nthreat_batch_size: 7\n"
			So(os.WriteFile(path, []byte(yaml), 0o600), ShouldBeNil)
			os.Setenv("FLEETTRACK_CONFIG", path)

			cfg, err := config.Load(context.Background())

			Convey("Then file values should override defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":6060")
				So(cfg.FleetExpiry, ShouldEqual, 10*time.Minute)
				So(cfg.ThreatBatchSize, ShouldEqual, 7)
			})

			Convey("And env should still override the file", func() {
				os.Setenv("FLEETTRACK_ADDR", ":5050")
				cfg, err := config.Load(context.Background())
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":5050")
			})
		})

		Convey("When the config is invalid", func() {
			os.Setenv("FLEETTRACK_ADDR", "")

			// koanf keeps the empty string, so validation must reject it.
			_, err := config.Load(context.Background())

			Convey("Then Load should fail with ErrInvalidConfig", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "invalid config")
			})
		})
	})
}
