package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CharacterStats is the aggregate returned by the stats service.
type CharacterStats struct {
	DangerRatio float64 `json:"dangerRatio"`
}

// StatsClient queries the external stats service for per-character
// aggregates. Consumed by the danger-ratio refresh job.
type StatsClient struct {
	baseURL    string
	httpClient *http.Client
}

// StatsOption applies a configuration option to the StatsClient.
type StatsOption func(*StatsClient)

// WithStatsHTTPClient replaces the default HTTP client.
func WithStatsHTTPClient(c *http.Client) StatsOption {
	return func(s *StatsClient) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// NewStatsClient creates a stats client for the given base URL.
func NewStatsClient(baseURL string, opts ...StatsOption) *StatsClient {
	s := &StatsClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Character fetches the danger ratio for one character.
func (s *StatsClient) Character(ctx context.Context, characterID int64) (CharacterStats, error) {
	url := fmt.Sprintf("%s/characterID/%d/", s.baseURL, characterID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CharacterStats{}, fmt.Errorf("build stats request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return CharacterStats{}, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CharacterStats{}, fmt.Errorf("%w: unexpected status %d", ErrStatsUnavailable, resp.StatusCode)
	}

	var stats CharacterStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return CharacterStats{}, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}
	return stats, nil
}
