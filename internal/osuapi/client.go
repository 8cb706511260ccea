// Package osuapi implements the authenticated osu! API v2 client used by the
// pipelines: paged rankings, user and beatmap lookups, and per-user beatmap
// scores, all behind the shared retry/backoff policy.
package osuapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/netutil"
)

// DefaultBaseURL is the production osu! API host.
const DefaultBaseURL = "https://osu.ppy.sh"

// MaxPage is the highest zero-based rankings page (200 pages of 50 = top 10k).
const MaxPage = 199

// MaxBatchIDs is the upstream limit on ids[] per batched call.
const MaxBatchIDs = 50

// Doer abstracts the single-shot HTTP requester.
type Doer interface {
	Do(ctx context.Context, method, url string, headers http.Header, body []byte) (int, []byte, error)
}

// TokenSource provides the bearer token and drives refresh on 401.
type TokenSource interface {
	GetAccessToken() string
	UpdateAccessToken(ctx context.Context) error
}

// BeatmapCache is a shared bounded cache of beatmap objects. Beatmap
// metadata is stable within a pipeline run, and the same map shows up
// repeatedly across modes; caching avoids refetching it. Safe for use from
// many worker clients.
type BeatmapCache struct {
	cache otter.Cache[int64, Beatmap]
}

// NewBeatmapCache creates a cache bounded to maxEntries beatmaps.
func NewBeatmapCache(maxEntries int) *BeatmapCache {
	cache, err := otter.MustBuilder[int64, Beatmap](maxEntries).
		Cost(func(_ int64, _ Beatmap) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("osuapi: failed to create beatmap cache: " + err.Error())
	}
	return &BeatmapCache{cache: cache}
}

func (c *BeatmapCache) get(id int64) (Beatmap, bool) { return c.cache.Get(id) }
func (c *BeatmapCache) put(b Beatmap)                { c.cache.Set(b.ID, b) }

// Config configures a Client.
type Config struct {
	Requester Doer
	Tokens    TokenSource
	BaseURL   string        // defaults to DefaultBaseURL
	Cooldown  time.Duration // initial per-request delay; zero for pool workers
	Beatmaps  *BeatmapCache // optional shared cache
}

// Client talks to the osu! API v2. One instance per worker goroutine; the
// TokenSource and BeatmapCache are the only shared pieces.
type Client struct {
	requester Doer
	tokens    TokenSource
	baseURL   string
	cooldown  time.Duration
	beatmaps  *BeatmapCache
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Requester == nil {
		panic("osuapi: NewClient requires a requester")
	}
	if cfg.Tokens == nil {
		panic("osuapi: NewClient requires a token source")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		requester: cfg.Requester,
		tokens:    cfg.Tokens,
		baseURL:   strings.TrimSuffix(base, "/"),
		cooldown:  cfg.Cooldown,
		beatmaps:  cfg.Beatmaps,
	}
}

// GetRankings fetches one zero-based page of the performance ranking.
// The upstream paginates 1-based, so the URL carries page+1.
func (c *Client) GetRankings(ctx context.Context, page int, mode model.Gamemode) (*RankingsPage, error) {
	if page < 0 || page > MaxPage {
		panic(fmt.Sprintf("osuapi: rankings page %d out of range [0, %d]", page, MaxPage))
	}
	url := fmt.Sprintf("%s/api/v2/rankings/%s/performance?page=%d", c.baseURL, APIName(mode), page+1)
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("osuapi: rankings page %d (%s) not found", page, mode)
	}
	var p RankingsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("osuapi: decode rankings page %d (%s): %w", page, mode, err)
	}
	return &p, nil
}

// GetUser fetches a single user with mode-specific statistics and rank
// history. found is false when the user no longer exists.
func (c *Client) GetUser(ctx context.Context, id model.UserID, mode model.Gamemode) (*User, bool, error) {
	url := fmt.Sprintf("%s/api/v2/users/%d/%s?key=id", c.baseURL, id, APIName(mode))
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil || !found {
		return nil, found, err
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, false, fmt.Errorf("osuapi: decode user %d: %w", id, err)
	}
	return &u, true, nil
}

// GetUsers fetches up to MaxBatchIDs users in one call. Statistics come back
// keyed per ruleset; use User.StatisticsFor(mode).
func (c *Client) GetUsers(ctx context.Context, ids []model.UserID, mode model.Gamemode) ([]User, error) {
	if len(ids) > MaxBatchIDs {
		panic(fmt.Sprintf("osuapi: %d user ids exceeds batch limit %d", len(ids), MaxBatchIDs))
	}
	if len(ids) == 0 {
		return nil, nil
	}
	url := c.baseURL + "/api/v2/users?" + idsQuery(ids)
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("osuapi: batched users lookup not found")
	}
	var env usersEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("osuapi: decode users batch: %w", err)
	}
	_ = mode // mode selects statistics at the call site via StatisticsFor
	return env.Users, nil
}

// GetBeatmap fetches a single beatmap, consulting the shared cache first.
func (c *Client) GetBeatmap(ctx context.Context, id model.BeatmapID) (*Beatmap, bool, error) {
	if c.beatmaps != nil {
		if b, ok := c.beatmaps.get(id); ok {
			return &b, true, nil
		}
	}
	url := fmt.Sprintf("%s/api/v2/beatmaps/%d", c.baseURL, id)
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil || !found {
		return nil, found, err
	}
	var b Beatmap
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, false, fmt.Errorf("osuapi: decode beatmap %d: %w", id, err)
	}
	if c.beatmaps != nil {
		c.beatmaps.put(b)
	}
	return &b, true, nil
}

// GetBeatmaps fetches up to MaxBatchIDs beatmaps, serving cache hits locally
// and batching only the misses.
func (c *Client) GetBeatmaps(ctx context.Context, ids []model.BeatmapID) ([]Beatmap, error) {
	if len(ids) > MaxBatchIDs {
		panic(fmt.Sprintf("osuapi: %d beatmap ids exceeds batch limit %d", len(ids), MaxBatchIDs))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var result []Beatmap
	var misses []model.BeatmapID
	if c.beatmaps != nil {
		for _, id := range ids {
			if b, ok := c.beatmaps.get(id); ok {
				result = append(result, b)
			} else {
				misses = append(misses, id)
			}
		}
	} else {
		misses = ids
	}
	if len(misses) == 0 {
		return result, nil
	}

	url := c.baseURL + "/api/v2/beatmaps?" + idsQuery(misses)
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("osuapi: batched beatmaps lookup not found")
	}
	var env beatmapsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("osuapi: decode beatmaps batch: %w", err)
	}
	if c.beatmaps != nil {
		for _, b := range env.Beatmaps {
			c.beatmaps.put(b)
		}
	}
	return append(result, env.Beatmaps...), nil
}

// GetUserBeatmapScores fetches all of a user's scores on a beatmap for one
// ruleset. found is false when the user has no scores there.
func (c *Client) GetUserBeatmapScores(ctx context.Context, mode model.Gamemode, userID model.UserID, beatmapID model.BeatmapID) ([]Score, bool, error) {
	url := fmt.Sprintf("%s/api/v2/beatmaps/%d/scores/users/%d/all?ruleset=%s",
		c.baseURL, beatmapID, userID, APIName(mode))
	body, found, err := c.getJSONObject(ctx, url)
	if err != nil || !found {
		return nil, found, err
	}
	var env userScoresEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false, fmt.Errorf("osuapi: decode user %d scores on beatmap %d: %w", userID, beatmapID, err)
	}
	return env.Scores, true, nil
}

func idsQuery(ids []int64) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte('&')
		}
		fmt.Fprintf(&sb, "ids[]=%d", id)
	}
	return sb.String()
}

// getJSONObject runs the shared retry loop for one GET:
//
//	transport error  -> wait max(0, 30s - delay), same delay, no retry count
//	200              -> body must be a JSON object
//	401              -> refresh token, same delay
//	404              -> found=false
//	429 / 5xx        -> exponential backoff
//	anything else    -> failure, logged as unhandled
//
// Retries are unbounded; ctx is the only way to stop a stuck loop.
func (c *Client) getJSONObject(ctx context.Context, url string) ([]byte, bool, error) {
	backoff := netutil.NewBackoff(c.cooldown)

	for {
		if err := netutil.Wait(ctx, backoff.Delay()); err != nil {
			return nil, false, fmt.Errorf("osuapi: request cancelled: %w", err)
		}

		headers := http.Header{}
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
		headers.Set("Authorization", "Bearer "+c.tokens.GetAccessToken())

		status, body, err := c.requester.Do(ctx, http.MethodGet, url, headers, nil)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, false, fmt.Errorf("osuapi: request cancelled: %w", ctx.Err())
			}
			log.Printf("[osuapi] transport failure, re-attempt in %v: %v", backoff.TransportWait(), err)
			if werr := netutil.Wait(ctx, backoff.TransportWait()); werr != nil {
				return nil, false, fmt.Errorf("osuapi: request cancelled: %w", werr)
			}
		case status == http.StatusOK:
			trimmed := strings.TrimSpace(string(body))
			if !strings.HasPrefix(trimmed, "{") {
				return nil, false, fmt.Errorf("osuapi: response from %s is not a JSON object", url)
			}
			return body, true, nil
		case status == http.StatusUnauthorized:
			if err := c.tokens.UpdateAccessToken(ctx); err != nil {
				return nil, false, fmt.Errorf("osuapi: token refresh after 401: %w", err)
			}
		case status == http.StatusNotFound:
			return nil, false, nil
		case status == http.StatusTooManyRequests || status >= 500:
			log.Printf("[osuapi] status %d from %s, backing off %v (retry %d)", status, url, backoff.Advance(), backoff.Retries())
		default:
			log.Printf("[osuapi] unhandled status %d from %s", status, url)
			return nil, false, fmt.Errorf("osuapi: unhandled status %d from %s", status, url)
		}
	}
}
