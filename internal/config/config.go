package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. CHATSYNC_TOKEN.
const EnvPrefix = "CHATSYNC"

// Duration is a time.Duration written as "1s" in TOML and the environment.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Reconnect holds the streaming reconnect policy.
type Reconnect struct {
	BaseDelay   Duration `toml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay    Duration `toml:"max_delay" envconfig:"MAX_DELAY"`
	MaxAttempts int      `toml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
}

// Conversation is an entry of the fallback list shown when the backend
// cannot list conversations.
type Conversation struct {
	ID            string `toml:"id"`
	DisplayName   string `toml:"display_name"`
	CounterpartID string `toml:"counterpart_id"`
	Role          string `toml:"role"`
}

// DevUser seeds the development backend.
type DevUser struct {
	ID       string `toml:"id"`
	Name     string `toml:"name"`
	Role     string `toml:"role"`
	Token    string `toml:"token"`
	Unlinked bool   `toml:"unlinked"`
}

// Dev configures the development backend.
type Dev struct {
	Addr  string     `toml:"addr" envconfig:"ADDR"`
	Users []DevUser  `toml:"users" ignored:"true"`
	Chats [][]string `toml:"chats" ignored:"true"`
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session" envconfig:"DEFAULT_SESSION"`

	APIBaseURL string `toml:"api_base_url" envconfig:"API_URL"`
	StreamURL  string `toml:"stream_url" envconfig:"STREAM_URL"`
	Token      string `toml:"token" envconfig:"TOKEN"`
	ActorID    string `toml:"actor_id" envconfig:"ACTOR_ID"`

	RequestTimeout    Duration  `toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	HeartbeatInterval Duration  `toml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	TypingTimeout     Duration  `toml:"typing_timeout" envconfig:"TYPING_TIMEOUT"`
	PageSize          int       `toml:"page_size" envconfig:"PAGE_SIZE"`
	LogLevel          string    `toml:"log_level" envconfig:"LOG_LEVEL"`
	Reconnect         Reconnect `toml:"reconnect" envconfig:"RECONNECT"`

	Fallback []Conversation `toml:"fallback" ignored:"true"`
	Dev      Dev            `toml:"dev" envconfig:"DEV"`
}

// Default returns the configuration used for anything the file and the
// environment leave unset.
func Default() *Config {
	return &Config{
		DefaultSession:    "main",
		APIBaseURL:        "http://127.0.0.1:8080",
		RequestTimeout:    Duration{15 * time.Second},
		HeartbeatInterval: Duration{25 * time.Second},
		TypingTimeout:     Duration{3 * time.Second},
		PageSize:          50,
		LogLevel:          "info",
		Reconnect: Reconnect{
			BaseDelay:   Duration{time.Second},
			MaxDelay:    Duration{30 * time.Second},
			MaxAttempts: 10,
		},
		Dev: Dev{Addr: "127.0.0.1:8080"},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv loads the given .env files, when present, and overlays CHATSYNC_*
// variables on cfg. Variables already set in the process win over .env files.
func ApplyEnv(cfg *Config, dotenv ...string) error {
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("unable to get envconfig: %w", err)
	}
	return nil
}

// Resolve builds the effective configuration: defaults, then the file at
// path if it exists, then .env and the environment.
func Resolve(path string, dotenv ...string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := ApplyEnv(cfg, dotenv...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields a sync session cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api_base_url: %w", err))
	}
	if c.ActorID == "" {
		errs = append(errs, errors.New("actor_id is required"))
	}
	if c.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	return errors.Join(errs...)
}

// StreamEndpoint returns StreamURL, or the /ws endpoint derived from the API
// base URL when it is unset.
func (c *Config) StreamEndpoint() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
