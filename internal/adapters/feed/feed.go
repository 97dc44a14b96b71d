// Package feed consumes the upstream kill feed and the character stats
// service.
//
// The feed is a RedisQ-style long poll: each request returns either an
// empty/heartbeat response or one package containing a raw killmail plus
// zkb metadata. Delivery is at-least-once; callers must tolerate
// redelivered packages.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/fleettrack/internal/domain/model"
)

const defaultRequestTimeout = 15 * time.Second

// Killmail is the raw kill payload. The upstream fields are decoded into
// an explicit schema so malformed payloads fail fast on ingestion instead
// of surfacing as zero-valued records downstream.
type Killmail struct {
	KillmailID    int64      `json:"killmail_id"`
	KillmailTime  time.Time  `json:"killmail_time"`
	SolarSystemID int64      `json:"solar_system_id"`
	Victim        Victim     `json:"victim"`
	Attackers     []Attacker `json:"attackers"`
}

// Victim is the destroyed ship's pilot.
type Victim struct {
	CharacterID   int64          `json:"character_id"`
	CorporationID int64          `json:"corporation_id"`
	AllianceID    int64          `json:"alliance_id"`
	ShipTypeID    int64          `json:"ship_type_id"`
	Position      model.Position `json:"position"`
}

// Attacker is one participant on the aggressing side. CharacterID is zero
// for NPC attackers; corporation and alliance are zero when the upstream
// omits them.
type Attacker struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	ShipTypeID    int64 `json:"ship_type_id"`
	FinalBlow     bool  `json:"final_blow"`
}

// Meta carries the feed's own metadata about a kill.
type Meta struct {
	NPC bool `json:"npc"`
}

// Package is one feed response. A heartbeat response has a nil Killmail.
type Package struct {
	KillID   int64     `json:"killID"`
	Killmail *Killmail `json:"killmail"`
	Zkb      Meta      `json:"zkb"`
}

// Empty reports whether this package is a heartbeat with no kill payload.
func (p *Package) Empty() bool {
	return p == nil || p.Killmail == nil
}

// Participants returns the player pilots involved in the kill with their
// ship types: the victim plus every attacker with a character id.
func (p *Package) Participants() []model.Participant {
	if p.Empty() {
		return nil
	}

	out := make([]model.Participant, 0, len(p.Killmail.Attackers)+1)
	victim := p.Killmail.Victim
	if victim.CharacterID != 0 {
		out = append(out, model.Participant{
			CharacterID:   victim.CharacterID,
			ShipTypeID:    victim.ShipTypeID,
			CorporationID: victim.CorporationID,
			AllianceID:    optionalID(victim.AllianceID),
		})
	}
	for _, a := range p.Killmail.Attackers {
		if a.CharacterID == 0 {
			continue // NPC attacker
		}
		out = append(out, model.Participant{
			CharacterID:   a.CharacterID,
			ShipTypeID:    a.ShipTypeID,
			CorporationID: a.CorporationID,
			AllianceID:    optionalID(a.AllianceID),
		})
	}
	return out
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// Validate rejects packages the normalizer cannot process.
func (p *Package) Validate() error {
	if p.Empty() {
		return nil
	}
	km := p.Killmail
	switch {
	case km.KillmailID <= 0:
		return fmt.Errorf("%w: missing killmail_id", ErrMalformedPackage)
	case km.SolarSystemID <= 0:
		return fmt.Errorf("%w: missing solar_system_id", ErrMalformedPackage)
	case km.Victim.ShipTypeID <= 0:
		return fmt.Errorf("%w: missing victim ship_type_id", ErrMalformedPackage)
	case km.KillmailTime.IsZero():
		return fmt.Errorf("%w: missing killmail_time", ErrMalformedPackage)
	}
	return nil
}

// envelope is the wire framing around a package.
type envelope struct {
	Package *Package `json:"package"`
}

// Client pulls packages from the upstream feed.
type Client struct {
	url        string
	httpClient *http.Client
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Client) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// NewClient creates a feed client for the given endpoint.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch pulls the next package from the feed. A heartbeat/empty response
// yields (nil, nil).
func (c *Client) Fetch(ctx context.Context) (*Package, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrFeedUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPackage, err)
	}

	if env.Package.Empty() {
		return nil, nil
	}
	if err := env.Package.Validate(); err != nil {
		return nil, err
	}
	return env.Package, nil
}
