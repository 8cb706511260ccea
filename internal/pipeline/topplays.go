package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/osuapi"
	"github.com/rankwatch/rankwatch/internal/trackapi"
)

// DefaultBestPlaysLimit is how many best plays per mode one run harvests.
const DefaultBestPlaysLimit = 50

// TopPlaysClient is the slice of the osu! API the top-plays pipeline uses.
type TopPlaysClient interface {
	GetUsers(ctx context.Context, ids []model.UserID, mode model.Gamemode) ([]osuapi.User, error)
	GetBeatmaps(ctx context.Context, ids []model.BeatmapID) ([]osuapi.Beatmap, error)
	GetUserBeatmapScores(ctx context.Context, mode model.Gamemode, userID model.UserID, beatmapID model.BeatmapID) ([]osuapi.Score, bool, error)
}

// BestPlaysClient is the osu!track side of the harvest.
type BestPlaysClient interface {
	GetBestPlays(ctx context.Context, mode model.Gamemode, from, to time.Time, limit int) ([]trackapi.BestPlay, error)
}

// TopPlaysStore is the store surface the top-plays pipeline writes to.
type TopPlaysStore interface {
	WipeTables() error
	InsertTopPlays(plays []model.TopPlay, mode model.Gamemode) error
}

// TopPlaysConfig configures a TopPlays pipeline.
type TopPlaysConfig struct {
	Store TopPlaysStore
	Track BestPlaysClient
	// NewClient builds one osu! client per pool worker.
	NewClient func() TopPlaysClient
	Workers   int
	Limit     int              // best plays per mode; defaults to DefaultBestPlaysLimit
	Now       func() time.Time // defaults to time.Now
}

// TopPlays harvests the daily best plays of every mode, reconciles them
// against the players' actual score objects, and materializes enriched rows.
type TopPlays struct {
	store     TopPlaysStore
	track     BestPlaysClient
	newClient func() TopPlaysClient
	workers   int
	limit     int
	now       func() time.Time
}

// NewTopPlays creates the pipeline.
func NewTopPlays(cfg TopPlaysConfig) *TopPlays {
	if cfg.Store == nil || cfg.Track == nil || cfg.NewClient == nil {
		panic("pipeline: NewTopPlays requires a store, a best-plays client, and a client factory")
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultBestPlaysLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TopPlays{
		store:     cfg.Store,
		track:     cfg.Track,
		newClient: cfg.NewClient,
		workers:   workers,
		limit:     limit,
		now:       now,
	}
}

// Run executes one full harvest. The tables are wiped up front: rows always
// describe exactly one day, and a failed run leaves visibly empty tables
// rather than yesterday's data.
func (p *TopPlays) Run(ctx context.Context) error {
	runID := uuid.NewString()
	log.Printf("[pipeline] top plays run %s: starting (%d workers, limit %d)", runID, p.workers, p.limit)

	if err := p.store.WipeTables(); err != nil {
		return fmt.Errorf("pipeline: top plays run %s: wipe: %w", runID, err)
	}

	clients := make([]TopPlaysClient, p.workers)
	for i := range clients {
		clients[i] = p.newClient()
	}

	to := p.now().UTC()
	from := to.Add(-24 * time.Hour)

	for _, mode := range model.Gamemodes {
		if err := p.runMode(ctx, runID, mode, from, to, clients); err != nil {
			return fmt.Errorf("pipeline: top plays run %s (%s): %w", runID, mode, err)
		}
	}
	log.Printf("[pipeline] top plays run %s: complete", runID)
	return nil
}

func (p *TopPlays) runMode(ctx context.Context, runID string, mode model.Gamemode, from, to time.Time, clients []TopPlaysClient) error {
	plays, err := p.track.GetBestPlays(ctx, mode, from, to, p.limit)
	if err != nil {
		return err
	}
	plays = dedupePlays(plays)
	log.Printf("[pipeline] top plays run %s: %s harvested %d plays", runID, mode, len(plays))

	matched, err := p.matchScores(ctx, runID, mode, plays, clients)
	if err != nil {
		return err
	}
	rows, err := p.enrich(ctx, runID, mode, matched, clients)
	if err != nil {
		return err
	}

	// Ranks follow the harvest order, renumbered over the survivors.
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return p.store.InsertTopPlays(rows, mode)
}

// dedupePlays drops repeated records, keyed by an xxh3 hash of the play
// identity. The upstream occasionally repeats a play across window edges.
func dedupePlays(plays []trackapi.BestPlay) []trackapi.BestPlay {
	seen := make(map[uint64]struct{}, len(plays))
	out := plays[:0]
	for _, play := range plays {
		key := xxh3.HashString(fmt.Sprintf("%d|%d|%s", play.UserID, play.BeatmapID, play.ScoreTime))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, play)
	}
	return out
}

// matchScores resolves each harvested play against the player's actual score
// objects on that beatmap. The osu!track score_time and the osu! created_at
// are both ISO-8601 UTC at second resolution, so string equality is the join
// key. Unmatched plays are dropped with a warning.
func (p *TopPlays) matchScores(ctx context.Context, runID string, mode model.Gamemode, plays []trackapi.BestPlay, clients []TopPlaysClient) ([]model.TopPlay, error) {
	slots := make([]*model.TopPlay, len(plays))
	err := fanOut(ctx, p.workers, len(plays), func(ctx context.Context, worker, i int) error {
		play := plays[i]
		scores, found, err := clients[worker].GetUserBeatmapScores(ctx, mode, play.UserID, play.BeatmapID)
		if err != nil {
			return err
		}
		if !found {
			log.Printf("[pipeline] top plays run %s: no scores for user %d on beatmap %d (%s), dropping", runID, play.UserID, play.BeatmapID, mode)
			return nil
		}
		for _, s := range scores {
			if s.CreatedAt != play.ScoreTime {
				continue
			}
			row, err := buildScoreRow(play, s, mode)
			if err != nil {
				return err
			}
			slots[i] = row
			return nil
		}
		log.Printf("[pipeline] top plays run %s: no score of user %d on beatmap %d matches %s (%s), dropping", runID, play.UserID, play.BeatmapID, play.ScoreTime, mode)
		return nil
	})
	if err != nil {
		return nil, err
	}

	matched := make([]model.TopPlay, 0, len(slots))
	for _, row := range slots {
		if row != nil {
			matched = append(matched, *row)
		}
	}
	return matched, nil
}

// buildScoreRow fills the score facts of a row. The user and beatmap
// snapshots come later from the batched lookups.
func buildScoreRow(play trackapi.BestPlay, s osuapi.Score, mode model.Gamemode) (*model.TopPlay, error) {
	mods, err := model.ParseMods(s.Mods)
	if err != nil {
		return nil, fmt.Errorf("score %d: %w", s.ID, err)
	}
	pp := play.PP
	if s.PP != nil {
		pp = *s.PP
	}
	row := &model.TopPlay{
		ScoreID:           s.ID,
		Mods:              mods.String(),
		PerformancePoints: pp,
		Accuracy:          s.Accuracy * 100,
		TotalScore:        s.Score,
		CreatedAt:         s.CreatedAt,
		Combo:             s.MaxCombo,
		LetterRank:        s.Rank,
		Count300:          s.Statistics.Count300,
		Count100:          s.Statistics.Count100,
		Count50:           s.Statistics.Count50,
		CountMiss:         s.Statistics.CountMiss,
		BeatmapID:         play.BeatmapID,
		User:              model.RankingsUser{UserID: play.UserID},
	}
	// Taiko has no 50s; the API reports the field anyway.
	if mode == model.GamemodeTaiko {
		row.Count50 = 0
	}
	return row, nil
}

// enrich fills the user and beatmap snapshots via 50-id batched lookups.
// Chunks run concurrently and fill shared lookup maps.
func (p *TopPlays) enrich(ctx context.Context, runID string, mode model.Gamemode, matched []model.TopPlay, clients []TopPlaysClient) ([]model.TopPlay, error) {
	if len(matched) == 0 {
		return nil, nil
	}

	userIDs := uniqueIDs(matched, func(p *model.TopPlay) int64 { return p.User.UserID })
	beatmapIDs := uniqueIDs(matched, func(p *model.TopPlay) int64 { return p.BeatmapID })
	userChunks := chunkIDs(userIDs, osuapi.MaxBatchIDs)
	beatmapChunks := chunkIDs(beatmapIDs, osuapi.MaxBatchIDs)

	users := xsync.NewMap[int64, osuapi.User]()
	beatmaps := xsync.NewMap[int64, osuapi.Beatmap]()

	err := fanOut(ctx, p.workers, len(userChunks)+len(beatmapChunks), func(ctx context.Context, worker, i int) error {
		if i < len(userChunks) {
			batch, err := clients[worker].GetUsers(ctx, userChunks[i], mode)
			if err != nil {
				return err
			}
			for _, u := range batch {
				users.Store(u.ID, u)
			}
			return nil
		}
		batch, err := clients[worker].GetBeatmaps(ctx, beatmapChunks[i-len(userChunks)])
		if err != nil {
			return err
		}
		for _, b := range batch {
			beatmaps.Store(b.ID, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]model.TopPlay, 0, len(matched))
	for _, row := range matched {
		u, ok := users.Load(row.User.UserID)
		if !ok {
			log.Printf("[pipeline] top plays run %s: user %d missing from batch lookup (%s), dropping", runID, row.User.UserID, mode)
			continue
		}
		stats, ok := u.StatisticsFor(mode)
		if !ok {
			log.Printf("[pipeline] top plays run %s: user %d has no %s statistics, dropping", runID, u.ID, mode)
			continue
		}
		b, ok := beatmaps.Load(row.BeatmapID)
		if !ok {
			log.Printf("[pipeline] top plays run %s: beatmap %d missing from batch lookup (%s), dropping", runID, row.BeatmapID, mode)
			continue
		}

		row.User.Username = u.Username
		row.User.CountryCode = model.ToAlpha2(u.CountryCode)
		row.User.AvatarURL = u.AvatarURL
		row.User.PerformancePoints = stats.PP
		row.User.Accuracy = stats.HitAccuracy
		row.User.HoursPlayed = stats.PlayTime / 3600
		row.User.CurrentRank = stats.GlobalRank
		if stats.GlobalRank != nil && *stats.GlobalRank == 0 {
			// Inactive players report rank 0; store it as unranked.
			row.User.CurrentRank = nil
		}

		row.StarRating = b.StarRating
		row.DifficultyName = b.Version
		row.MaxCombo = b.MaxCombo
		if b.Beatmapset != nil {
			row.Artist = b.Beatmapset.Artist
			row.Title = b.Beatmapset.Title
			row.MapsetCreator = b.Beatmapset.Creator
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func uniqueIDs(plays []model.TopPlay, key func(*model.TopPlay) int64) []int64 {
	seen := make(map[int64]struct{}, len(plays))
	var ids []int64
	for i := range plays {
		id := key(&plays[i])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
