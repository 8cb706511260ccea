// Package trackapi implements the osu!track best-plays client: unauthorized
// time-window queries for the top daily scores of a ruleset.
package trackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/netutil"
)

// DefaultBaseURL is the production osu!track API host.
const DefaultBaseURL = "https://osutrack-api.ameo.dev"

// BestPlay is one record of a /bestplays response.
type BestPlay struct {
	UserID    int64   `json:"user"`
	BeatmapID int64   `json:"beatmap_id"`
	PP        float64 `json:"pp"`
	Score     int64   `json:"score"`
	ScoreTime string  `json:"score_time"` // ISO-8601 UTC, second resolution
	Rank      string  `json:"rank"`       // letter rank
}

// Doer abstracts the single-shot HTTP requester.
type Doer interface {
	Do(ctx context.Context, method, url string, headers http.Header, body []byte) (int, []byte, error)
}

// Config configures a Client.
type Config struct {
	Requester Doer
	BaseURL   string        // defaults to DefaultBaseURL
	Cooldown  time.Duration // initial per-request delay
}

// Client queries the best-plays API. No OAuth; the retry policy matches the
// osu! client except that every 4xx is a non-retryable failure.
type Client struct {
	requester Doer
	baseURL   string
	cooldown  time.Duration
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Requester == nil {
		panic("trackapi: NewClient requires a requester")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		requester: cfg.Requester,
		baseURL:   strings.TrimSuffix(base, "/"),
		cooldown:  cfg.Cooldown,
	}
}

// GetBestPlays fetches up to limit best plays of a mode scored inside
// [from, to]. Dates are encoded as YYYY-MM-DD; the mode as its numeric code.
func (c *Client) GetBestPlays(ctx context.Context, mode model.Gamemode, from, to time.Time, limit int) ([]BestPlay, error) {
	if limit <= 0 {
		panic(fmt.Sprintf("trackapi: non-positive best plays limit %d", limit))
	}
	url := fmt.Sprintf("%s/bestplays?mode=%d&from=%s&to=%s&limit=%d",
		c.baseURL, mode.TrackCode(),
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"), limit)

	body, err := c.getJSONArray(ctx, url)
	if err != nil {
		return nil, err
	}
	var plays []BestPlay
	if err := json.Unmarshal(body, &plays); err != nil {
		return nil, fmt.Errorf("trackapi: decode best plays (%s): %w", mode, err)
	}
	if len(plays) > limit {
		plays = plays[:limit]
	}
	return plays, nil
}

// getJSONArray runs the retry loop: transport errors wait max(0, 30s-delay)
// and retry with the same delay; 5xx backs off exponentially; any 4xx is a
// non-retryable failure; 200 must be a JSON array.
func (c *Client) getJSONArray(ctx context.Context, url string) ([]byte, error) {
	backoff := netutil.NewBackoff(c.cooldown)

	for {
		if err := netutil.Wait(ctx, backoff.Delay()); err != nil {
			return nil, fmt.Errorf("trackapi: request cancelled: %w", err)
		}

		headers := http.Header{}
		headers.Set("Accept", "application/json")

		status, body, err := c.requester.Do(ctx, http.MethodGet, url, headers, nil)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("trackapi: request cancelled: %w", ctx.Err())
			}
			log.Printf("[trackapi] transport failure, re-attempt in %v: %v", backoff.TransportWait(), err)
			if werr := netutil.Wait(ctx, backoff.TransportWait()); werr != nil {
				return nil, fmt.Errorf("trackapi: request cancelled: %w", werr)
			}
		case status == http.StatusOK:
			trimmed := strings.TrimSpace(string(body))
			if !strings.HasPrefix(trimmed, "[") {
				return nil, fmt.Errorf("trackapi: response from %s is not a JSON array", url)
			}
			return body, nil
		case status == http.StatusTooManyRequests || status >= 500:
			log.Printf("[trackapi] status %d from %s, backing off %v (retry %d)", status, url, backoff.Advance(), backoff.Retries())
		case status >= 400:
			return nil, fmt.Errorf("trackapi: status %d from %s", status, url)
		default:
			log.Printf("[trackapi] unhandled status %d from %s", status, url)
			return nil, fmt.Errorf("trackapi: unhandled status %d from %s", status, url)
		}
	}
}
