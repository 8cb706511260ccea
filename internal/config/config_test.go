package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := NewDefault()
	cfg.DiscordBotToken = "token"
	cfg.OsuClientID = "123"
	cfg.OsuClientSecret = "secret"
	cfg.ScrapeRankingsRunHour = 5
	cfg.DiscordBotStrings = map[string]string{"up": ":up:"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DiscordBotToken != "token" || got.ScrapeRankingsRunHour != 5 {
		t.Fatalf("unexpected config: %+v", got)
	}
	if got.DiscordBotStrings["up"] != ":up:" {
		t.Fatalf("bot strings = %v", got.DiscordBotStrings)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestNormalize_Hours(t *testing.T) {
	cases := []struct{ in, want int }{
		{-1, 23}, {24, 0}, {-25, 23}, {48, 0}, {7, 7},
	}
	for _, c := range cases {
		cfg := NewDefault()
		cfg.ScrapeRankingsRunHour = c.in
		cfg.TopPlaysRunHour = c.in
		if err := cfg.Normalize(); err != nil {
			t.Fatalf("normalize(%d): %v", c.in, err)
		}
		if cfg.ScrapeRankingsRunHour != c.want || cfg.TopPlaysRunHour != c.want {
			t.Errorf("hour %d normalized to %d/%d, want %d", c.in, cfg.ScrapeRankingsRunHour, cfg.TopPlaysRunHour, c.want)
		}
	}
}

func TestNormalize_LogLevelAndThreads(t *testing.T) {
	cfg := NewDefault()
	cfg.LogLevel = 9
	cfg.ThreadCount = 0
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.LogLevel != 1 {
		t.Fatalf("log level = %d, want 1", cfg.LogLevel)
	}
	if cfg.ThreadCount < 1 {
		t.Fatalf("thread count = %d, want >= 1", cfg.ThreadCount)
	}

	cfg = NewDefault()
	cfg.LogLevel = -2
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.LogLevel != 1 {
		t.Fatalf("log level = %d, want 1", cfg.LogLevel)
	}
}

func TestNormalize_MaintenanceSchedule(t *testing.T) {
	cfg := NewDefault()
	cfg.MaintenanceSchedule = "not a schedule"
	if err := cfg.Normalize(); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}

	cfg = NewDefault()
	cfg.MaintenanceSchedule = ""
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.MaintenanceSchedule == "" {
		t.Fatal("empty schedule should pick up the default")
	}
}

func TestSave_RestrictsPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := NewDefault().Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestRunSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	in := strings.NewReader("bot-token\n\n12345\ncorrect horse battery staple osu\n")
	var out strings.Builder

	cfg, err := RunSetup(in, &out, path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.DiscordBotToken != "bot-token" || cfg.OsuClientID != "12345" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// The blank client-ID line must be re-prompted, not accepted.
	if !strings.Contains(out.String(), "A value is required.") {
		t.Fatalf("missing re-prompt in output:\n%s", out.String())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if loaded.OsuClientSecret != "correct horse battery staple osu" {
		t.Fatalf("secret = %q", loaded.OsuClientSecret)
	}
}

func TestRunSetup_WeakSecretWarns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	in := strings.NewReader("bot-token\n12345\nabc123\n")
	var out strings.Builder

	if _, err := RunSetup(in, &out, path); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(out.String(), "looks weak") {
		t.Fatalf("missing weak-secret warning:\n%s", out.String())
	}
}

func TestIsWeakSecret(t *testing.T) {
	if !IsWeakSecret("password") {
		t.Fatal("\"password\" should be weak")
	}
	if IsWeakSecret("") {
		t.Fatal("empty secret is handled elsewhere, not weak")
	}
	if IsWeakSecret("vN8#kQz7!pL2wX9mRfT4") {
		t.Fatal("high-entropy secret should not be weak")
	}
}
