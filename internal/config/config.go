package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultTimeout     = 600 * time.Second
	defaultWaitGrace   = 30 * time.Second
	defaultLogMaxFiles = 5

	// TimeoutEnvVar overrides the default session timeout with an integer
	// number of seconds. A per-request timeout still takes precedence.
	TimeoutEnvVar = "INTERACTIVE_FEEDBACK_TIMEOUT_SECONDS"

	configDirName = ".feedback-mcp"
)

// Config stores runtime settings loaded from TOML files and the environment.
type Config struct {
	// Timeout is the session countdown budget when a request does not
	// carry its own.
	Timeout time.Duration
	// WaitGrace is how much longer than the countdown the orchestrator
	// waits for the session process before force-terminating it.
	WaitGrace time.Duration
	// ChannelDir hosts result channel files. Empty means the system temp
	// directory.
	ChannelDir string
	// LogMaxFiles caps how many runtime log files are kept on disk.
	LogMaxFiles int
}

type fileConfig struct {
	Timeout     *string `toml:"timeout"`
	WaitGrace   *string `toml:"wait_grace"`
	ChannelDir  *string `toml:"channel_dir"`
	LogMaxFiles *int    `toml:"log_max_files"`
}

// Load reads config from ~/.feedback-mcp/config.toml, overlays a
// project-local .feedback-mcp/config.toml, then applies environment
// overrides.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, configDirName, "config.toml"),
		filepath.Join(workingDir, configDirName, "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := overlayFromEnv(&cfg); err != nil {
		return nil, err
	}

	_ = ctx
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Timeout:     defaultTimeout,
		WaitGrace:   defaultWaitGrace,
		ChannelDir:  "",
		LogMaxFiles: defaultLogMaxFiles,
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if decoded.Timeout != nil {
		value, err := parseDuration(*decoded.Timeout, "timeout", path)
		if err != nil {
			return err
		}
		if value <= 0 {
			return fmt.Errorf("parse timeout in %q: must be > 0", path)
		}
		cfg.Timeout = value
	}
	if decoded.WaitGrace != nil {
		value, err := parseDuration(*decoded.WaitGrace, "wait_grace", path)
		if err != nil {
			return err
		}
		if value < 0 {
			return fmt.Errorf("parse wait_grace in %q: must be >= 0", path)
		}
		cfg.WaitGrace = value
	}
	if decoded.ChannelDir != nil {
		cfg.ChannelDir = strings.TrimSpace(*decoded.ChannelDir)
	}
	if decoded.LogMaxFiles != nil {
		if *decoded.LogMaxFiles <= 0 {
			return fmt.Errorf("parse log_max_files in %q: must be > 0", path)
		}
		cfg.LogMaxFiles = *decoded.LogMaxFiles
	}

	return nil
}

func overlayFromEnv(cfg *Config) error {
	raw := strings.TrimSpace(os.Getenv(TimeoutEnvVar))
	if raw == "" {
		return nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", TimeoutEnvVar, raw, err)
	}
	if seconds <= 0 {
		return fmt.Errorf("parse %s=%q: must be > 0", TimeoutEnvVar, raw)
	}
	cfg.Timeout = time.Duration(seconds) * time.Second
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

// EffectiveTimeout resolves the countdown budget for one request. A positive
// per-request value wins; otherwise the configured default applies.
func (c *Config) EffectiveTimeout(requestedSeconds int) time.Duration {
	if c == nil {
		return defaultTimeout
	}
	if requestedSeconds > 0 {
		return time.Duration(requestedSeconds) * time.Second
	}
	return c.Timeout
}

// TimeoutSeconds reports the configured default timeout in whole seconds.
func (c *Config) TimeoutSeconds() int {
	if c == nil {
		return int(defaultTimeout / time.Second)
	}
	return int(c.Timeout / time.Second)
}
