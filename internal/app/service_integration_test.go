package app_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// upstream fakes the three external services the pipeline talks to: the
// kill feed, the entity directory and the character stats service. The
// feed delivers one kill, then heartbeats.
type upstream struct {
	feed      *httptest.Server
	directory *httptest.Server
	stats     *httptest.Server

	mu        sync.Mutex
	delivered bool
}

func newUpstream() *upstream {
	up := &upstream{}

	up.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		up.mu.Lock()
		first := !up.delivered
		up.delivered = true
		up.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !first {
			_, _ = w.Write([]byte(`{"package":null}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"package": map[string]any{
				"killID": 90001,
				"killmail": map[string]any{
					"killmail_id":     90001,
					"killmail_time":   time.Now().UTC().Format(time.RFC3339),
					"solar_system_id": 30000142,
					"victim": map[string]any{
						"character_id":   100,
						"corporation_id": 1000,
						"ship_type_id":   587,
						"position":       map[string]float64{"x": 1, "y": 2, "z": 3},
					},
					"attackers": []map[string]any{
						{"character_id": 200, "corporation_id": 2000, "ship_type_id": 670, "final_blow": true},
					},
				},
				"zkb": map[string]any{"npc": false},
			},
		})
	}))

	up.directory = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/universe/names/"):
			var ids []int64
			_ = json.NewDecoder(r.Body).Decode(&ids)
			refs := make([]map[string]any, 0, len(ids))
			for _, id := range ids {
				refs = append(refs, map[string]any{"id": id, "name": "Entity", "category": "character"})
			}
			_ = json.NewEncoder(w).Encode(refs)
		case strings.HasPrefix(r.URL.Path, "/universe/systems/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "Jita"})
		case strings.HasPrefix(r.URL.Path, "/universe/types/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "Rifter"})
		case strings.HasPrefix(r.URL.Path, "/characters/"):
			_ = json.NewEncoder(w).Encode(map[string]any{"name": "Pilot"})
		default:
			http.NotFound(w, r)
		}
	}))

	up.stats = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dangerRatio": 42}`))
	}))

	return up
}

func (u *upstream) feedURL() string      { return u.feed.URL }
func (u *upstream) directoryURL() string { return u.directory.URL }
func (u *upstream) statsURL() string     { return u.stats.URL }

func (u *upstream) Close() {
	u.feed.Close()
	u.directory.Close()
	u.stats.Close()
}
