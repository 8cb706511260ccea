package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/osuapi"
	"github.com/rankwatch/rankwatch/internal/trackapi"
)

type fakeTopPlaysStore struct {
	mu       sync.Mutex
	wiped    int
	inserted map[model.Gamemode][]model.TopPlay
}

func newFakeTopPlaysStore() *fakeTopPlaysStore {
	return &fakeTopPlaysStore{inserted: make(map[model.Gamemode][]model.TopPlay)}
}

func (f *fakeTopPlaysStore) WipeTables() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped++
	return nil
}

func (f *fakeTopPlaysStore) InsertTopPlays(plays []model.TopPlay, mode model.Gamemode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted[mode] = append(f.inserted[mode], plays...)
	return nil
}

type fakeTrack struct {
	plays map[model.Gamemode][]trackapi.BestPlay
}

func (f *fakeTrack) GetBestPlays(_ context.Context, mode model.Gamemode, _, _ time.Time, limit int) ([]trackapi.BestPlay, error) {
	p := f.plays[mode]
	if len(p) > limit {
		p = p[:limit]
	}
	return p, nil
}

// fakeOsuClient serves scores, users, and beatmaps from fixed tables.
type fakeOsuClient struct {
	scores   map[string][]osuapi.Score // "userID/beatmapID"
	users    map[int64]osuapi.User
	beatmaps map[int64]osuapi.Beatmap
}

func scoreKey(userID, beatmapID int64) string {
	return fmt.Sprintf("%d/%d", userID, beatmapID)
}

func (c *fakeOsuClient) GetUserBeatmapScores(_ context.Context, _ model.Gamemode, userID model.UserID, beatmapID model.BeatmapID) ([]osuapi.Score, bool, error) {
	s, ok := c.scores[scoreKey(userID, beatmapID)]
	return s, ok, nil
}

func (c *fakeOsuClient) GetUsers(_ context.Context, ids []model.UserID, _ model.Gamemode) ([]osuapi.User, error) {
	var out []osuapi.User
	for _, id := range ids {
		if u, ok := c.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (c *fakeOsuClient) GetBeatmaps(_ context.Context, ids []model.BeatmapID) ([]osuapi.Beatmap, error) {
	var out []osuapi.Beatmap
	for _, id := range ids {
		if b, ok := c.beatmaps[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func statsFor(mode model.Gamemode, rank int) map[string]osuapi.UserStatistics {
	name := osuapi.APIName(mode)
	return map[string]osuapi.UserStatistics{
		name: {GlobalRank: &rank, PP: 9000, HitAccuracy: 98.2, PlayTime: 3600 * 1200},
	}
}

func matchedScore(id int64, createdAt string) osuapi.Score {
	pp := 700.5
	return osuapi.Score{
		ID:        id,
		Mods:      []string{"HD", "DT"},
		PP:        &pp,
		Accuracy:  0.9931,
		Score:     12345678,
		CreatedAt: createdAt,
		MaxCombo:  1500,
		Rank:      "SH",
		Statistics: osuapi.ScoreStatistics{
			Count300: 1000, Count100: 10, Count50: 2, CountMiss: 1,
		},
	}
}

func onlyMode(mode model.Gamemode, plays []trackapi.BestPlay) map[model.Gamemode][]trackapi.BestPlay {
	m := make(map[model.Gamemode][]trackapi.BestPlay)
	m[mode] = plays
	return m
}

func TestTopPlays_MatchedAndUnmatched(t *testing.T) {
	mode := model.GamemodeOsu
	track := &fakeTrack{plays: onlyMode(mode, []trackapi.BestPlay{
		{UserID: 1, BeatmapID: 10, PP: 800, ScoreTime: "2026-08-23T10:00:00Z"},
		{UserID: 2, BeatmapID: 20, PP: 750, ScoreTime: "2026-08-23T11:00:00Z"},
		// No score object matches this timestamp: dropped.
		{UserID: 3, BeatmapID: 30, PP: 700, ScoreTime: "2026-08-23T12:00:00Z"},
	})}
	client := &fakeOsuClient{
		scores: map[string][]osuapi.Score{
			scoreKey(1, 10): {matchedScore(101, "2026-08-23T10:00:00Z")},
			scoreKey(2, 20): {
				matchedScore(201, "2026-08-20T09:00:00Z"), // older score on the same map
				matchedScore(202, "2026-08-23T11:00:00Z"),
			},
			scoreKey(3, 30): {matchedScore(301, "2026-08-23T12:00:01Z")}, // off by a second
		},
		users: map[int64]osuapi.User{
			1: {ID: 1, Username: "one", CountryCode: "de", AvatarURL: "a1", StatisticsRulesets: statsFor(mode, 50)},
			2: {ID: 2, Username: "two", CountryCode: "jp", AvatarURL: "a2", StatisticsRulesets: statsFor(mode, 120)},
		},
		beatmaps: map[int64]osuapi.Beatmap{
			10: {ID: 10, StarRating: 7.1, Version: "Extra", MaxCombo: 1600, Beatmapset: &osuapi.Beatmapset{Artist: "ar", Title: "ti", Creator: "cr"}},
			20: {ID: 20, StarRating: 6.4, Version: "Insane", MaxCombo: 1200, Beatmapset: &osuapi.Beatmapset{Artist: "ar2", Title: "ti2", Creator: "cr2"}},
		},
	}

	st := newFakeTopPlaysStore()
	p := NewTopPlays(TopPlaysConfig{
		Store:     st,
		Track:     track,
		NewClient: func() TopPlaysClient { return client },
		Workers:   4,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if st.wiped != 1 {
		t.Fatalf("wiped %d times, want exactly 1 (before the mode loop)", st.wiped)
	}
	rows := st.inserted[mode]
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (unmatched play dropped)", len(rows))
	}
	// Ranks follow the harvest order over the survivors.
	if rows[0].Rank != 1 || rows[0].User.UserID != 1 || rows[1].Rank != 2 || rows[1].User.UserID != 2 {
		t.Fatalf("unexpected ordering: %+v", rows)
	}

	r := rows[0]
	if r.ScoreID != 101 || r.Mods != "DTHD" || r.PerformancePoints != 700.5 {
		t.Fatalf("unexpected score facts: %+v", r)
	}
	if r.Accuracy != 99.31 {
		t.Fatalf("accuracy = %v, want 99.31", r.Accuracy)
	}
	if r.DifficultyName != "Extra" || r.Artist != "ar" || r.MapsetCreator != "cr" || r.StarRating != 7.1 {
		t.Fatalf("unexpected beatmap snapshot: %+v", r)
	}
	if r.User.Username != "one" || r.User.CountryCode != "DE" || r.User.HoursPlayed != 1200 {
		t.Fatalf("unexpected user snapshot: %+v", r.User)
	}
	if r.User.CurrentRank == nil || *r.User.CurrentRank != 50 {
		t.Fatalf("user rank = %v, want 50", r.User.CurrentRank)
	}

	// The older score on the same map must not shadow the matching one.
	if rows[1].ScoreID != 202 {
		t.Fatalf("rows[1].ScoreID = %d, want 202", rows[1].ScoreID)
	}
}

func TestTopPlays_DedupesRepeatedPlays(t *testing.T) {
	play := trackapi.BestPlay{UserID: 1, BeatmapID: 10, PP: 800, ScoreTime: "2026-08-23T10:00:00Z"}
	got := dedupePlays([]trackapi.BestPlay{play, play, {UserID: 1, BeatmapID: 10, PP: 790, ScoreTime: "2026-08-23T18:00:00Z"}})
	if len(got) != 2 {
		t.Fatalf("deduped = %d plays, want 2", len(got))
	}
}

func TestTopPlays_TaikoOmitsCount50(t *testing.T) {
	mode := model.GamemodeTaiko
	track := &fakeTrack{plays: onlyMode(mode, []trackapi.BestPlay{
		{UserID: 1, BeatmapID: 10, PP: 500, ScoreTime: "2026-08-23T10:00:00Z"},
	})}
	client := &fakeOsuClient{
		scores: map[string][]osuapi.Score{
			scoreKey(1, 10): {matchedScore(101, "2026-08-23T10:00:00Z")},
		},
		users: map[int64]osuapi.User{
			1: {ID: 1, Username: "drum", CountryCode: "kr", StatisticsRulesets: statsFor(mode, 9)},
		},
		beatmaps: map[int64]osuapi.Beatmap{
			10: {ID: 10, Version: "Oni"},
		},
	}

	st := newFakeTopPlaysStore()
	p := NewTopPlays(TopPlaysConfig{
		Store:     st,
		Track:     track,
		NewClient: func() TopPlaysClient { return client },
		Workers:   2,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	rows := st.inserted[mode]
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].Count50 != 0 {
		t.Fatalf("taiko count_50 = %d, want 0", rows[0].Count50)
	}
	if rows[0].Count300 != 1000 {
		t.Fatalf("count_300 = %d, want 1000", rows[0].Count300)
	}
}

func TestTopPlays_DropsRowsMissingFromBatchLookup(t *testing.T) {
	mode := model.GamemodeOsu
	track := &fakeTrack{plays: onlyMode(mode, []trackapi.BestPlay{
		{UserID: 1, BeatmapID: 10, PP: 800, ScoreTime: "2026-08-23T10:00:00Z"},
	})}
	// The score matches but the user lookup comes back empty (restricted
	// between harvest and enrichment).
	client := &fakeOsuClient{
		scores: map[string][]osuapi.Score{
			scoreKey(1, 10): {matchedScore(101, "2026-08-23T10:00:00Z")},
		},
		users:    map[int64]osuapi.User{},
		beatmaps: map[int64]osuapi.Beatmap{10: {ID: 10}},
	}

	st := newFakeTopPlaysStore()
	p := NewTopPlays(TopPlaysConfig{
		Store:     st,
		Track:     track,
		NewClient: func() TopPlaysClient { return client },
		Workers:   2,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(st.inserted[mode]) != 0 {
		t.Fatalf("rows = %d, want 0", len(st.inserted[mode]))
	}
}

func TestTopPlays_EmptyHarvest(t *testing.T) {
	st := newFakeTopPlaysStore()
	p := NewTopPlays(TopPlaysConfig{
		Store:     st,
		Track:     &fakeTrack{plays: map[model.Gamemode][]trackapi.BestPlay{}},
		NewClient: func() TopPlaysClient { return &fakeOsuClient{} },
		Workers:   2,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, mode := range model.Gamemodes {
		if len(st.inserted[mode]) != 0 {
			t.Fatalf("%s rows = %d, want 0", mode, len(st.inserted[mode]))
		}
	}
}
