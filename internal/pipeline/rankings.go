package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/osuapi"
	"github.com/rankwatch/rankwatch/internal/store"
)

// Freshness bounds of the stale-guard: a healthy store was last written by
// yesterday's run, so its age at run time sits inside [24h, 25h]. Anything
// else means a missed or off-schedule run and the tables are wiped so that
// yesterday ranks are not a day (or more) off.
const (
	minStoreAge = 24 * time.Hour
	maxStoreAge = 25 * time.Hour
)

// RankingsClient is the slice of the osu! API the rankings pipeline uses.
type RankingsClient interface {
	GetRankings(ctx context.Context, page int, mode model.Gamemode) (*osuapi.RankingsPage, error)
	GetUser(ctx context.Context, id model.UserID, mode model.Gamemode) (*osuapi.User, bool, error)
}

// RankingsStore is the store surface the rankings pipeline writes to.
type RankingsStore interface {
	LastWriteTime() (time.Time, error)
	WipeTables() error
	ShiftRanks(mode model.Gamemode) error
	InsertRankingsUsers(rows []model.RankingsUser, mode model.Gamemode) error
	DeleteUsersWithNullCurrentRank(mode model.Gamemode) error
	UserIDsWithNullYesterdayRank(mode model.Gamemode) ([]model.UserID, error)
	UpdateYesterdayRanks(pairs []store.RankPair, mode model.Gamemode) error
}

// RankingsConfig configures a Rankings pipeline.
type RankingsConfig struct {
	Store RankingsStore
	// NewClient builds one client per pool worker. Workers never share a
	// client; only the token manager and beatmap cache behind it are shared.
	NewClient func() RankingsClient
	Workers   int
	Now       func() time.Time // defaults to time.Now
}

// Rankings scrapes the top-10k performance rankings of every mode and
// reconciles yesterday ranks.
type Rankings struct {
	store     RankingsStore
	newClient func() RankingsClient
	workers   int
	now       func() time.Time
}

// NewRankings creates the pipeline.
func NewRankings(cfg RankingsConfig) *Rankings {
	if cfg.Store == nil || cfg.NewClient == nil {
		panic("pipeline: NewRankings requires a store and a client factory")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Rankings{store: cfg.Store, newClient: cfg.NewClient, workers: workers, now: now}
}

// Run executes one full scrape. Any upstream failure past the retry policy
// aborts the run; partial progress stays committed and the stale guard
// recovers the store on the next run.
func (p *Rankings) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log.Printf("[pipeline] rankings run %s: starting (%d workers)", runID, p.workers)

	if err := p.wipeIfStale(runID); err != nil {
		return err
	}

	clients := make([]RankingsClient, p.workers)
	for i := range clients {
		clients[i] = p.newClient()
	}

	for _, mode := range model.Gamemodes {
		if err := p.runMode(ctx, runID, mode, clients); err != nil {
			return fmt.Errorf("pipeline: rankings run %s (%s): %w", runID, mode, err)
		}
	}
	log.Printf("[pipeline] rankings run %s: complete", runID)
	return nil
}

func (p *Rankings) wipeIfStale(runID string) error {
	last, err := p.store.LastWriteTime()
	if err != nil {
		return fmt.Errorf("pipeline: rankings run %s: last write time: %w", runID, err)
	}
	age := p.now().Sub(last)
	if age >= minStoreAge && age <= maxStoreAge {
		return nil
	}
	log.Printf("[pipeline] rankings run %s: store age %v outside [%v, %v], wiping tables", runID, age.Round(time.Minute), minStoreAge, maxStoreAge)
	if err := p.store.WipeTables(); err != nil {
		return fmt.Errorf("pipeline: rankings run %s: wipe: %w", runID, err)
	}
	return nil
}

func (p *Rankings) runMode(ctx context.Context, runID string, mode model.Gamemode, clients []RankingsClient) error {
	if err := p.store.ShiftRanks(mode); err != nil {
		return err
	}

	// Fan out all pages; the per-page results keep their slot so the insert
	// order is deterministic.
	pages := make([][]model.RankingsUser, osuapi.MaxPage+1)
	err := fanOut(ctx, p.workers, len(pages), func(ctx context.Context, worker, page int) error {
		rp, err := clients[worker].GetRankings(ctx, page, mode)
		if err != nil {
			return err
		}
		pages[page] = convertRankingsPage(rp, page, mode)
		return nil
	})
	if err != nil {
		return err
	}

	var rows []model.RankingsUser
	for _, page := range pages {
		rows = append(rows, page...)
	}
	log.Printf("[pipeline] rankings run %s: %s scraped %d users", runID, mode, len(rows))

	if err := p.store.InsertRankingsUsers(rows, mode); err != nil {
		return err
	}
	if err := p.store.DeleteUsersWithNullCurrentRank(mode); err != nil {
		return err
	}
	return p.backfillYesterdayRanks(ctx, runID, mode, clients)
}

// backfillYesterdayRanks resolves yesterday ranks for users that entered the
// top-10k today, from the tail of their individual rank history curves.
func (p *Rankings) backfillYesterdayRanks(ctx context.Context, runID string, mode model.Gamemode, clients []RankingsClient) error {
	ids, err := p.store.UserIDsWithNullYesterdayRank(mode)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	log.Printf("[pipeline] rankings run %s: %s backfilling %d new entrants", runID, mode, len(ids))

	var mu sync.Mutex
	var pairs []store.RankPair
	err = fanOut(ctx, p.workers, len(ids), func(ctx context.Context, worker, i int) error {
		id := ids[i]
		u, found, err := clients[worker].GetUser(ctx, id, mode)
		if err != nil {
			return err
		}
		if !found {
			log.Printf("[pipeline] rankings run %s: user %d vanished during backfill, skipping", runID, id)
			return nil
		}
		rank, ok := u.RankHistory.YesterdayRank()
		if !ok {
			log.Printf("[pipeline] rankings run %s: user %d has no usable rank history, skipping", runID, id)
			return nil
		}
		mu.Lock()
		pairs = append(pairs, store.RankPair{UserID: id, Rank: rank})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	return p.store.UpdateYesterdayRanks(pairs, mode)
}

// convertRankingsPage turns one API page into store rows. Entries without a
// global rank (restricted mid-scrape) are dropped with a warning.
func convertRankingsPage(rp *osuapi.RankingsPage, page int, mode model.Gamemode) []model.RankingsUser {
	rows := make([]model.RankingsUser, 0, len(rp.Ranking))
	for _, e := range rp.Ranking {
		if e.GlobalRank == nil || *e.GlobalRank == 0 {
			log.Printf("[pipeline] dropping unranked entry for user %d on %s page %d", e.User.ID, mode, page)
			continue
		}
		rank := *e.GlobalRank
		rows = append(rows, model.RankingsUser{
			UserID:            e.User.ID,
			Username:          e.User.Username,
			CountryCode:       model.ToAlpha2(e.User.CountryCode),
			AvatarURL:         e.User.AvatarURL,
			PerformancePoints: e.PP,
			Accuracy:          e.HitAccuracy,
			HoursPlayed:       e.PlayTime / 3600,
			CurrentRank:       &rank,
		})
	}
	return rows
}
