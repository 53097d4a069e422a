package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Token = "secret"
	cfg.Reconnect.MaxDelay = Duration{45 * time.Second}
	cfg.Fallback = []Conversation{{ID: "support", DisplayName: "Support"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Reconnect.MaxDelay.Duration != 45*time.Second {
		t.Errorf("MaxDelay = %v, want 45s", loaded.Reconnect.MaxDelay)
	}
	if len(loaded.Fallback) != 1 || loaded.Fallback[0].ID != "support" {
		t.Errorf("Fallback = %+v", loaded.Fallback)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "actor_id = \"u1\"\n\n[reconnect]\nbase_delay = \"250ms\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ActorID != "u1" || cfg.Reconnect.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.MaxDelay.Duration != 30*time.Second || cfg.PageSize != 50 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestResolveOverlaysEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := Save(path, &Config{APIBaseURL: "http://file", Token: "from-file", PageSize: 20}); err != nil {
		t.Fatal(err)
	}
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("CHATSYNC_ACTOR_ID=from-dotenv\nCHATSYNC_TOKEN=dotenv-token\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATSYNC_TOKEN", "from-env")
	t.Setenv("CHATSYNC_RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("CHATSYNC_TYPING_TIMEOUT", "5s")
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_ACTOR_ID") })

	cfg, err := Resolve(path, dotenv)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "http://file" || cfg.PageSize != 20 {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Token != "from-env" {
		t.Errorf("Token = %q, process env must win over .env", cfg.Token)
	}
	if cfg.ActorID != "from-dotenv" {
		t.Errorf("ActorID = %q", cfg.ActorID)
	}
	if cfg.Reconnect.MaxAttempts != 3 || cfg.TypingTimeout.Duration != 5*time.Second {
		t.Errorf("env overrides = %+v", cfg)
	}
}

func TestResolveWithoutFile(t *testing.T) {
	cfg, err := Resolve(filepath.Join(t.TempDir(), "absent.toml"), filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultSession != "main" || cfg.HeartbeatInterval.Duration != 25*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected missing actor and token")
	}
	for _, want := range []string{"actor_id", "token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	cfg.ActorID, cfg.Token = "u1", "t"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestStreamEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		api    string
		stream string
		want   string
	}{
		{"derived http", "http://localhost:8080", "", "ws://localhost:8080/ws"},
		{"derived https with path", "https://chat.example.com/v1/", "", "wss://chat.example.com/v1/ws"},
		{"explicit", "http://a", "wss://b/socket", "wss://b/socket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{APIBaseURL: tt.api, StreamURL: tt.stream}
			if got := cfg.StreamEndpoint(); got != tt.want {
				t.Errorf("StreamEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}
