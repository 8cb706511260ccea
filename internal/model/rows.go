package model

import (
	"fmt"
	"strings"
)

// RankingsUser is one row of a per-mode rankings table.
// At least one of YesterdayRank / CurrentRank is non-null for any row handed
// to callers, and CurrentRank is never zero.
type RankingsUser struct {
	UserID            UserID
	Username          string
	CountryCode       string // ISO 3166-1 alpha-2, upper case
	AvatarURL         string
	PerformancePoints float64
	Accuracy          float64
	HoursPlayed       int
	YesterdayRank     *int
	CurrentRank       *int
}

// Validate checks the store-consistency invariants before a write.
func (u *RankingsUser) Validate() error {
	if u.UserID < 0 {
		return fmt.Errorf("model: negative user id %d", u.UserID)
	}
	if u.CurrentRank != nil && *u.CurrentRank == 0 {
		return fmt.Errorf("model: zero current rank for user %d", u.UserID)
	}
	if !IsAlpha2(u.CountryCode) {
		return fmt.Errorf("model: invalid country code %q for user %d", u.CountryCode, u.UserID)
	}
	return nil
}

// IsAlpha2 reports whether s is a two-letter upper-case country code.
func IsAlpha2(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// ToAlpha2 normalizes a country code to upper case. Idempotent; it does not
// validate membership in ISO 3166 (the upstream is the authority).
func ToAlpha2(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// TopPlay is one row of a per-mode top-plays table: a daily best score
// join-materialized with its beatmap and user snapshots. Rank is the primary
// key, 1..N in best-plays order.
type TopPlay struct {
	Rank int

	// Score facts.
	ScoreID           ScoreID
	Mods              string // canonical mods string
	PerformancePoints float64
	Accuracy          float64
	TotalScore        int64
	CreatedAt         string // ISO-8601 UTC, second resolution
	Combo             int
	LetterRank        string
	Count300          int
	Count100          int
	Count50           int // omitted (0) for taiko
	CountMiss         int

	// Beatmap facts.
	BeatmapID      BeatmapID
	StarRating     float64
	DifficultyName string
	Artist         string
	Title          string
	MapsetCreator  string
	MaxCombo       int

	// User snapshot.
	User RankingsUser
}

// Validate checks the store-consistency invariants before a write.
func (p *TopPlay) Validate() error {
	if p.Rank < 1 {
		return fmt.Errorf("model: top play rank %d out of range", p.Rank)
	}
	if p.ScoreID < 0 || p.BeatmapID < 0 {
		return fmt.Errorf("model: negative id on top play rank %d", p.Rank)
	}
	return p.User.Validate()
}

// IntPtr is a convenience for building nullable rank fields.
func IntPtr(v int) *int { return &v }
