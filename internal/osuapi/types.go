package osuapi

import "github.com/rankwatch/rankwatch/internal/model"

// APIName returns the ruleset segment used in osu! API v2 paths.
// The API calls the catch ruleset "fruits"; everything else matches the
// canonical mode name.
func APIName(mode model.Gamemode) string {
	if mode == model.GamemodeCatch {
		return "fruits"
	}
	return string(mode)
}

// RankingsPage is one page of /rankings/{mode}/performance.
type RankingsPage struct {
	Ranking []RankingsEntry `json:"ranking"`
}

// RankingsEntry is a per-user statistics object on a rankings page.
type RankingsEntry struct {
	GlobalRank  *int    `json:"global_rank"`
	PP          float64 `json:"pp"`
	HitAccuracy float64 `json:"hit_accuracy"`
	PlayTime    int     `json:"play_time"` // seconds
	User        UserCompact `json:"user"`
}

// UserCompact is the embedded user object on rankings pages.
type UserCompact struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	CountryCode string `json:"country_code"`
	AvatarURL   string `json:"avatar_url"`
}

// User is a full user object from /users/{id}/{mode} or the batched
// /users?ids[] endpoint. Statistics is populated on the single-user
// endpoint; StatisticsRulesets on the batched one.
type User struct {
	ID                 int64                     `json:"id"`
	Username           string                    `json:"username"`
	CountryCode        string                    `json:"country_code"`
	AvatarURL          string                    `json:"avatar_url"`
	Statistics         *UserStatistics           `json:"statistics"`
	StatisticsRulesets map[string]UserStatistics `json:"statistics_rulesets"`
	RankHistory        *RankHistory              `json:"rank_history"`
}

// StatisticsFor returns the statistics block for a mode, preferring the
// batched per-ruleset map and falling back to the single-mode field.
func (u *User) StatisticsFor(mode model.Gamemode) (UserStatistics, bool) {
	if u.StatisticsRulesets != nil {
		if s, ok := u.StatisticsRulesets[APIName(mode)]; ok {
			return s, true
		}
	}
	if u.Statistics != nil {
		return *u.Statistics, true
	}
	return UserStatistics{}, false
}

// UserStatistics is the per-ruleset statistics subobject.
type UserStatistics struct {
	GlobalRank  *int    `json:"global_rank"`
	PP          float64 `json:"pp"`
	HitAccuracy float64 `json:"hit_accuracy"`
	PlayTime    int     `json:"play_time"` // seconds
}

// RankHistoryLength is the documented length of rank_history.data.
// Index YesterdayRankIndex holds the rank from the previous day.
const (
	RankHistoryLength  = 90
	YesterdayRankIndex = 88
)

// RankHistory is the trailing 90-day rank curve of a user.
type RankHistory struct {
	Mode string `json:"mode"`
	Data []int  `json:"data"`
}

// YesterdayRank reads the previous-day rank from the history, if present.
func (h *RankHistory) YesterdayRank() (int, bool) {
	if h == nil || len(h.Data) <= YesterdayRankIndex {
		return 0, false
	}
	r := h.Data[YesterdayRankIndex]
	if r <= 0 {
		return 0, false
	}
	return r, true
}

// Beatmap is a beatmap object from /beatmaps endpoints.
type Beatmap struct {
	ID         int64       `json:"id"`
	StarRating float64     `json:"difficulty_rating"`
	Version    string      `json:"version"` // difficulty name
	MaxCombo   int         `json:"max_combo"`
	Beatmapset *Beatmapset `json:"beatmapset"`
}

// Beatmapset carries the set-level metadata of a beatmap.
type Beatmapset struct {
	Artist  string `json:"artist"`
	Title   string `json:"title"`
	Creator string `json:"creator"`
}

// Score is one score object from /beatmaps/{id}/scores/users/{uid}/all.
type Score struct {
	ID         int64           `json:"id"`
	Mods       []string        `json:"mods"`
	PP         *float64        `json:"pp"`
	Accuracy   float64         `json:"accuracy"`
	Score      int64           `json:"score"`
	CreatedAt  string          `json:"created_at"` // ISO-8601 UTC
	MaxCombo   int             `json:"max_combo"`
	Rank       string          `json:"rank"` // letter rank
	Statistics ScoreStatistics `json:"statistics"`
}

// ScoreStatistics holds the hit counts of a score.
type ScoreStatistics struct {
	Count300  int `json:"count_300"`
	Count100  int `json:"count_100"`
	Count50   int `json:"count_50"`
	CountMiss int `json:"count_miss"`
}

type usersEnvelope struct {
	Users []User `json:"users"`
}

type beatmapsEnvelope struct {
	Beatmaps []Beatmap `json:"beatmaps"`
}

type userScoresEnvelope struct {
	Scores []Score `json:"scores"`
}
