// Package bot turns completed pipeline runs into plain-text digests and fans
// them out to subscribed channels. The message transport is injected; this
// package never talks to a chat API directly.
package bot

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/store"
)

// DefaultMaxStoreAge is the freshness bound for publishing. It is looser
// than the pipeline wipe guard: a digest built from slightly-late data is
// still useful, a digest built from yesterday's forgotten run is not.
const DefaultMaxStoreAge = 26 * time.Hour

// Defaults for digest sizing.
const (
	defaultImprovementsPerRange = 3
	defaultTopPlaysShown        = 10
)

// PublishFunc delivers one message to one channel.
type PublishFunc func(channel model.ChannelID, message string) error

// RankingsReader is the read surface of the rankings store the bot uses.
type RankingsReader interface {
	LastWriteTime() (time.Time, error)
	HasEmptyTable() (bool, error)
	TopRankImprovements(country string, minRank, maxRank, n int, mode model.Gamemode) ([]store.RankImprovement, error)
	BottomRankImprovements(country string, minRank, maxRank, n int, mode model.Gamemode) ([]store.RankImprovement, error)
}

// TopPlaysReader is the read surface of the top-plays store the bot uses.
type TopPlaysReader interface {
	LastWriteTime() (time.Time, error)
	HasEmptyTable() (bool, error)
	TopPlays(country string, n int, mode model.Gamemode) ([]model.TopPlay, error)
}

// Subscriptions resolves the channels subscribed to a feed.
type Subscriptions interface {
	SubscribedChannels(page model.Page) ([]model.ChannelID, error)
}

// Config configures a Service.
type Config struct {
	Rankings      RankingsReader
	TopPlays      TopPlaysReader
	Subscriptions Subscriptions
	Publish       PublishFunc
	MaxStoreAge   time.Duration     // defaults to DefaultMaxStoreAge
	Strings       map[string]string // optional decorations keyed by "up"/"down"/"play"
	Now           func() time.Time  // defaults to time.Now
}

// Service implements the pipeline completion hooks.
type Service struct {
	rankings    RankingsReader
	topPlays    TopPlaysReader
	subs        Subscriptions
	publish     PublishFunc
	maxStoreAge time.Duration
	strings     map[string]string
	now         func() time.Time
}

// NewService creates the bot boundary.
func NewService(cfg Config) *Service {
	if cfg.Rankings == nil || cfg.TopPlays == nil || cfg.Subscriptions == nil || cfg.Publish == nil {
		panic("bot: NewService requires stores, subscriptions, and a publish function")
	}
	maxAge := cfg.MaxStoreAge
	if maxAge <= 0 {
		maxAge = DefaultMaxStoreAge
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		rankings:    cfg.Rankings,
		topPlays:    cfg.TopPlays,
		subs:        cfg.Subscriptions,
		publish:     cfg.Publish,
		maxStoreAge: maxAge,
		strings:     cfg.Strings,
		now:         now,
	}
}

// OnScrapeRankingsComplete builds and publishes the daily rankings digest.
func (s *Service) OnScrapeRankingsComplete() {
	if !s.storeUsable("rankings", model.PageRankings, s.rankings.LastWriteTime, s.rankings.HasEmptyTable) {
		return
	}
	digest, err := s.rankingsDigest()
	if err != nil {
		log.Printf("[bot] rankings digest failed: %v", err)
		return
	}
	s.fanOut(model.PageRankings, digest)
}

// OnTopPlaysComplete builds and publishes the daily top-plays digest.
func (s *Service) OnTopPlaysComplete() {
	if !s.storeUsable("top plays", model.PageTopPlays, s.topPlays.LastWriteTime, s.topPlays.HasEmptyTable) {
		return
	}
	digest, err := s.topPlaysDigest()
	if err != nil {
		log.Printf("[bot] top plays digest failed: %v", err)
		return
	}
	s.fanOut(model.PageTopPlays, digest)
}

// storeUsable enforces the freshness and non-empty preconditions. A failed
// precondition publishes a recognizable failure line and skips the digest;
// there is no retry, tomorrow's run supersedes today's.
func (s *Service) storeUsable(name string, page model.Page, lastWrite func() (time.Time, error), hasEmpty func() (bool, error)) bool {
	last, err := lastWrite()
	if err != nil {
		log.Printf("[bot] %s last write time: %v", name, err)
		s.fanOut(page, s.failureLine(name))
		return false
	}
	if age := s.now().Sub(last); age > s.maxStoreAge {
		log.Printf("[bot] %s store is stale (%v old), publishing failure notice", name, age.Round(time.Minute))
		s.fanOut(page, s.failureLine(name))
		return false
	}
	empty, err := hasEmpty()
	if err != nil {
		log.Printf("[bot] %s empty-table check: %v", name, err)
		s.fanOut(page, s.failureLine(name))
		return false
	}
	if empty {
		log.Printf("[bot] %s store has an empty table, publishing failure notice", name)
		s.fanOut(page, s.failureLine(name))
		return false
	}
	return true
}

func (s *Service) failureLine(name string) string {
	return fmt.Sprintf("No %s update today: the data did not come in on time.", name)
}

func (s *Service) fanOut(page model.Page, message string) {
	channels, err := s.subs.SubscribedChannels(page)
	if err != nil {
		log.Printf("[bot] resolve subscribers for %s: %v", page, err)
		return
	}
	for _, ch := range channels {
		if err := s.publish(ch, message); err != nil {
			log.Printf("[bot] publish to channel %d: %v", ch, err)
		}
	}
	log.Printf("[bot] published %s update to %d channels", page, len(channels))
}

func (s *Service) decor(key, fallback string) string {
	if v, ok := s.strings[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s *Service) rankingsDigest() (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily rankings update for %s\n", s.now().UTC().Format("2006-01-02"))

	up := s.decor("up", "↑")
	down := s.decor("down", "↓")

	for _, mode := range model.Gamemodes {
		fmt.Fprintf(&b, "\n[%s]\n", mode)
		for _, rr := range model.RankRanges {
			minRank, maxRank := rr.Bounds()
			climbs, err := s.rankings.TopRankImprovements(store.CountryGlobal, minRank, maxRank, defaultImprovementsPerRange, mode)
			if err != nil {
				return "", err
			}
			falls, err := s.rankings.BottomRankImprovements(store.CountryGlobal, minRank, maxRank, defaultImprovementsPerRange, mode)
			if err != nil {
				return "", err
			}
			if len(climbs) == 0 && len(falls) == 0 {
				continue
			}
			fmt.Fprintf(&b, "ranks %d-%d:\n", minRank, maxRank)
			for _, r := range climbs {
				fmt.Fprintf(&b, "  %s %s (%s) #%d → #%d (+%.1f%%)\n",
					up, r.Username, r.CountryCode, *r.YesterdayRank, *r.CurrentRank, r.Relative*100)
			}
			for _, r := range falls {
				fmt.Fprintf(&b, "  %s %s (%s) #%d → #%d (-%.1f%%)\n",
					down, r.Username, r.CountryCode, *r.YesterdayRank, *r.CurrentRank, r.Relative*100)
			}
		}
	}
	return b.String(), nil
}

func (s *Service) topPlaysDigest() (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily top plays for %s\n", s.now().UTC().Format("2006-01-02"))

	marker := s.decor("play", "•")

	for _, mode := range model.Gamemodes {
		plays, err := s.topPlays.TopPlays(store.CountryGlobal, defaultTopPlaysShown, mode)
		if err != nil {
			return "", err
		}
		if len(plays) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n", mode)
		for _, p := range plays {
			mods := p.Mods
			if mods == "" {
				mods = "NM"
			}
			fmt.Fprintf(&b, "%s #%d %s: %s [%s] +%s %.0fpp (%.2f%%, %s)\n",
				marker, p.Rank, p.User.Username, p.Title, p.DifficultyName, mods,
				p.PerformancePoints, p.Accuracy, p.LetterRank)
		}
	}
	return b.String(), nil
}
