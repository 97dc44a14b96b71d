// Package directory is the HTTP client for the external id->entity lookup
// service. It only performs raw lookups; memoization and fallback policy
// live in the resolver.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// Record is a point-lookup result.
type Record struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NameRef is one entry of a batch name resolution.
type NameRef struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// CelestialRecord describes the object nearest to a position. Name is
// empty for object classes the upstream cannot label (notably stargates).
type CelestialRecord struct {
	ItemID int64  `json:"itemid"`
	TypeID int64  `json:"typeid"`
	Name   string `json:"itemName"`
}

// Client performs lookups against the directory service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Client) {
		if c != nil {
			d.httpClient = c
		}
	}
}

// NewClient creates a directory client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	d := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Character looks up one character by id.
func (d *Client) Character(ctx context.Context, id int64) (Record, error) {
	return d.get(ctx, fmt.Sprintf("%s/characters/%d/", d.baseURL, id), id)
}

// Type looks up one object type by id.
func (d *Client) Type(ctx context.Context, id int64) (Record, error) {
	return d.get(ctx, fmt.Sprintf("%s/universe/types/%d/", d.baseURL, id), id)
}

// System looks up one solar system by id.
func (d *Client) System(ctx context.Context, id int64) (Record, error) {
	return d.get(ctx, fmt.Sprintf("%s/universe/systems/%d/", d.baseURL, id), id)
}

// Stargate looks up one stargate by item id.
func (d *Client) Stargate(ctx context.Context, id int64) (Record, error) {
	return d.get(ctx, fmt.Sprintf("%s/universe/stargates/%d/", d.baseURL, id), id)
}

// Celestial looks up the celestial object with the given item id.
func (d *Client) Celestial(ctx context.Context, id int64) (CelestialRecord, error) {
	url := fmt.Sprintf("%s/universe/celestials/%d/", d.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CelestialRecord{}, fmt.Errorf("build celestial request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return CelestialRecord{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return CelestialRecord{}, fmt.Errorf("%w: celestial %d", ErrNoMatch, id)
	}
	if resp.StatusCode != http.StatusOK {
		return CelestialRecord{}, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var rec CelestialRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return CelestialRecord{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	return rec, nil
}

// Names resolves a set of ids to name/category pairs in one call. The
// caller is expected to deduplicate ids first.
func (d *Client) Names(ctx context.Context, ids []int64) ([]NameRef, error) {
	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode names request: %w", err)
	}

	url := d.baseURL + "/universe/names/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build names request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var refs []NameRef
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	return refs, nil
}

// get performs a point lookup and normalizes the not-found case.
func (d *Client) get(ctx context.Context, url string, id int64) (Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Record{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Record{}, fmt.Errorf("%w: id %d", ErrNoMatch, id)
	}
	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	// Point lookups omit the id in some upstream responses.
	if rec.ID == 0 {
		rec.ID = id
	}
	return rec, nil
}
