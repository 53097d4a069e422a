package session

import "github.com/matheus3301/chatsync/internal/config"

// DefaultSessionName is used when neither the flag nor the config names one.
const DefaultSessionName = "main"

// Resolve returns flagOverride when set, otherwise the configured default
// session, otherwise DefaultSessionName.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := configuredDefault(); name != "" {
		return name
	}
	return DefaultSessionName
}

// configuredDefault reads default_session from config.toml with the
// CHATSYNC_DEFAULT_SESSION override applied. An unreadable config counts as
// unset.
func configuredDefault() string {
	cfg, err := config.Resolve(ConfigPath(), EnvPath())
	if err != nil {
		return ""
	}
	return cfg.DefaultSession
}
