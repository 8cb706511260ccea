// Package model defines the domain types shared by the upstream clients,
// stores, and pipelines: game modes, rank ranges, mod sets, and the
// materialized row shapes persisted per mode.
package model

import "fmt"

// UserID, BeatmapID, ScoreID, and ChannelID are upstream 64-bit identifiers.
// SQLite's widest native integer is signed 64-bit, so they are carried as
// int64 with a non-negative invariant enforced at the store boundary.
type (
	UserID    = int64
	BeatmapID = int64
	ScoreID   = int64
	ChannelID = int64
)

// Gamemode is the closed set of osu! rulesets.
type Gamemode string

const (
	GamemodeOsu   Gamemode = "osu"
	GamemodeTaiko Gamemode = "taiko"
	GamemodeCatch Gamemode = "catch"
	GamemodeMania Gamemode = "mania"
)

// Gamemodes lists all modes in the fixed processing order used by the
// pipelines.
var Gamemodes = [4]Gamemode{GamemodeOsu, GamemodeTaiko, GamemodeCatch, GamemodeMania}

// IsValid reports whether m is one of the four known rulesets.
func (m Gamemode) IsValid() bool {
	switch m {
	case GamemodeOsu, GamemodeTaiko, GamemodeCatch, GamemodeMania:
		return true
	}
	return false
}

// TrackCode returns the numeric ruleset code used by the best-plays API.
// Panics on an unknown mode: callers only hold values from Gamemodes.
func (m Gamemode) TrackCode() int {
	switch m {
	case GamemodeOsu:
		return 0
	case GamemodeTaiko:
		return 1
	case GamemodeCatch:
		return 2
	case GamemodeMania:
		return 3
	}
	panic(fmt.Sprintf("model: unknown gamemode %q", string(m)))
}

// RankingsTable returns the per-mode rankings table name.
// Table names come from this closed enumeration, never from user input.
func (m Gamemode) RankingsTable() string {
	return m.titled() + "Rankings"
}

// TopPlaysTable returns the per-mode top-plays table name.
func (m Gamemode) TopPlaysTable() string {
	return m.titled() + "TopPlays"
}

func (m Gamemode) titled() string {
	switch m {
	case GamemodeOsu:
		return "Osu"
	case GamemodeTaiko:
		return "Taiko"
	case GamemodeCatch:
		return "Catch"
	case GamemodeMania:
		return "Mania"
	}
	panic(fmt.Sprintf("model: unknown gamemode %q", string(m)))
}

// RankRange partitions the top-10k into the three digest tiers.
type RankRange int

const (
	RankRangeFirst  RankRange = iota // ranks 1-100
	RankRangeSecond                  // ranks 101-1000
	RankRangeThird                   // ranks 1001-10000
)

// RankRanges lists the tiers in ascending rank order.
var RankRanges = [3]RankRange{RankRangeFirst, RankRangeSecond, RankRangeThird}

// Bounds returns the inclusive [min, max] current-rank interval of the tier.
func (r RankRange) Bounds() (minRank, maxRank int) {
	switch r {
	case RankRangeFirst:
		return 1, 100
	case RankRangeSecond:
		return 101, 1000
	case RankRangeThird:
		return 1001, 10000
	}
	panic(fmt.Sprintf("model: unknown rank range %d", int(r)))
}

// Page identifies a subscription feed.
type Page string

const (
	PageRankings Page = "rankings"
	PageTopPlays Page = "topPlays"
)

// IsValid reports whether p names a known subscription feed.
func (p Page) IsValid() bool {
	return p == PageRankings || p == PageTopPlays
}
