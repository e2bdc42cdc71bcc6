package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Store.Backend = "mongo"
	cfg.Game.MaxBid = cfg.Game.MinBid
	cfg.Archive.Cron = "61 * * * *"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, want := range []string{"unknown mode", "unknown backend", "max_bid", "archive: cron", "telegram_chat_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateBackends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sqlite without path", func(c *Config) { c.Store.Backend = "sqlite"; c.SQLite.Path = " " }, "sqlite: path"},
		{"postgres with dsn", func(c *Config) { c.Store.Backend = "postgres"; c.Postgres.DSN = "postgres://x@y/z"; c.Postgres.Host = "" }, ""},
		{"postgres without host", func(c *Config) { c.Store.Backend = "postgres"; c.Postgres.Host = "" }, "postgres: host"},
		{"memory autopilot process", func(c *Config) { c.Mode = "autopilot" }, "backend memory"},
		{"archive needs bucket", func(c *Config) { c.Store.Backend = "sqlite"; c.Mode = "archive" }, "s3: bucket"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bertrand.toml")
	body := `
mode = "server"

[store]
backend = "sqlite"

[game]
total_rounds = 5
round_time_limit = "90s"
demand_model = "linear"

[leaderboard.weights]
game_win = 200
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BERTRAND_SQLITE_PATH", filepath.Join(dir, "game.db"))
	t.Setenv("BERTRAND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("BERTRAND_GAME_MAX_PLAYERS", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "server" || cfg.Store.Backend != "sqlite" {
		t.Fatalf("top level = %q %q", cfg.Mode, cfg.Store.Backend)
	}
	if cfg.Game.TotalRounds != 5 || cfg.Game.RoundTimeLimit.Duration != 90*time.Second || cfg.Game.DemandModel != "linear" {
		t.Fatalf("game = %+v", cfg.Game)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Game.MaxBid != 100 || cfg.Leaderboard.Weights.RoundWin != 10 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Game, cfg.Leaderboard.Weights)
	}
	if cfg.Leaderboard.Weights.GameWin != 200 {
		t.Fatalf("weights = %+v", cfg.Leaderboard.Weights)
	}
	if cfg.SQLite.Path != filepath.Join(dir, "game.db") {
		t.Fatalf("sqlite path = %q", cfg.SQLite.Path)
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("cors = %v", got)
	}
	if cfg.Game.MaxPlayers != 32 {
		t.Fatalf("unparseable override applied: %d", cfg.Game.MaxPlayers)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d := cfg.Game.Domain(); d.RoundTimeLimit != 90*time.Second || d.TotalRounds != 5 {
		t.Fatalf("domain config = %+v", d)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[autopilot]\ninterval = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://game:hunter2@db:5432/bertrand"
	cfg.Postgres.Password = "hunter2"
	cfg.S3.SecretKey = "s3cret"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "db:5432") {
		t.Fatalf("dsn = %q", out.Postgres.DSN)
	}
	if out.Postgres.Password != redacted || out.S3.SecretKey != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.Notify.DiscordWebhookURL != redacted {
		t.Fatalf("webhook = %q", out.Notify.DiscordWebhookURL)
	}
	if out.Redis.Password != "" {
		t.Fatal("empty secret should stay empty")
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original mutated")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] == "changed" {
		t.Fatal("events slice shared with original")
	}
}
