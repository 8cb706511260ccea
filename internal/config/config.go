// Package config loads, normalizes, and persists the JSON service
// configuration, including the interactive first-run setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/robfig/cron/v3"
)

// DefaultPath is the config file location relative to the working directory.
const DefaultPath = "config.json"

// Config holds all service settings. Zero values are filled in by Normalize.
type Config struct {
	LogLevel      int  `json:"logLevel"`      // 0..3
	LogANSIColors bool `json:"logAnsiColors"`

	DiscordBotToken string `json:"discordBotToken"`
	OsuClientID     string `json:"osuClientID"`
	OsuClientSecret string `json:"osuClientSecret"`

	ScrapeRankingsRunHour int `json:"scrapeRankingsRunHour"` // 0..23
	TopPlaysRunHour       int `json:"topPlaysRunHour"`       // 0..23
	ThreadCount           int `json:"threadCount"`

	RankingsDBFilePath  string `json:"rankingsDbFilePath"`
	TopPlaysDBFilePath  string `json:"topPlaysDbFilePath"`
	BotConfigDBFilePath string `json:"botConfigDbFilePath"`

	MaintenanceSchedule string `json:"maintenanceSchedule"`

	DiscordBotStrings map[string]string `json:"discordBotStrings"`
}

// NewDefault returns a Config with every tunable at its default. Credentials
// are left empty; the interactive setup fills them in.
func NewDefault() *Config {
	return &Config{
		LogLevel:              1,
		LogANSIColors:         true,
		ScrapeRankingsRunHour: 6,
		TopPlaysRunHour:       8,
		ThreadCount:           runtime.NumCPU(),
		RankingsDBFilePath:    "data/rankings.db",
		TopPlaysDBFilePath:    "data/topplays.db",
		BotConfigDBFilePath:   "data/botconfig.db",
		MaintenanceSchedule:   "30 4 * * *",
		DiscordBotStrings:     map[string]string{},
	}
}

// Load reads and normalizes the config file. A missing file returns
// os.ErrNotExist so the caller can run the interactive setup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := NewDefault()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	// 0600: the file carries the bot token and OAuth secret.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Normalize clamps out-of-range values onto their domains. Out-of-range run
// hours wrap modulo 24; a bad log level falls back to 1; a non-positive
// thread count becomes the hardware concurrency. The maintenance schedule
// must be a valid five-field cron expression.
func (c *Config) Normalize() error {
	c.ScrapeRankingsRunHour = normalizeHour(c.ScrapeRankingsRunHour)
	c.TopPlaysRunHour = normalizeHour(c.TopPlaysRunHour)
	if c.LogLevel < 0 || c.LogLevel > 3 {
		c.LogLevel = 1
	}
	if c.ThreadCount < 1 {
		c.ThreadCount = runtime.NumCPU()
	}
	if c.MaintenanceSchedule == "" {
		c.MaintenanceSchedule = "30 4 * * *"
	}
	if _, err := cron.ParseStandard(c.MaintenanceSchedule); err != nil {
		return fmt.Errorf("invalid maintenanceSchedule %q: %w", c.MaintenanceSchedule, err)
	}
	if c.DiscordBotStrings == nil {
		c.DiscordBotStrings = map[string]string{}
	}
	return nil
}

func normalizeHour(hour int) int {
	return ((hour % 24) + 24) % 24
}
