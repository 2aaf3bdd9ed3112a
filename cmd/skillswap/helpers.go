package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	skillswap "github.com/skillswap-app/skillswap-go"
	"gopkg.in/yaml.v3"
)

const defaultCommandTimeout = 30 * time.Second

// loadEffectiveConfig reads the config file and overlays the environment.
func loadEffectiveConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyEnv(cfg)
	return cfg, nil
}

// commandContext bounds a single command by the configured timeout.
func commandContext(cfg *Config) (context.Context, context.CancelFunc) {
	timeout := defaultCommandTimeout
	if cfg.Default.TimeoutSec > 0 {
		timeout = time.Duration(cfg.Default.TimeoutSec) * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// newClient creates an unauthenticated marketplace client from cfg.
func newClient(cfg *Config) *skillswap.Client {
	opts := []skillswap.ClientOption{skillswap.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, skillswap.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.TimeoutSec > 0 {
		opts = append(opts, skillswap.WithTimeout(time.Duration(cfg.Default.TimeoutSec)*time.Second))
	}
	return skillswap.NewClient(opts...)
}

// sessionStore returns where the session lives. Credentials from the
// environment form a throwaway session that is never written to disk.
func sessionStore(cfg *Config) skillswap.SessionStore {
	if os.Getenv("SKILLSWAP_USERNAME") != "" && os.Getenv("SKILLSWAP_PASSWORD") != "" {
		store := skillswap.NewMemorySessionStore()
		_ = store.Save(&skillswap.Session{Username: cfg.Auth.Username, Password: cfg.Auth.Password})
		return store
	}
	return configSessionStore{}
}

// newCoordinator builds a coordinator and restores the saved session. With
// requireAuth set, a missing or rejected session is an error; otherwise the
// coordinator stays anonymous.
func newCoordinator(ctx context.Context, cfg *Config, requireAuth bool) (*skillswap.Coordinator, error) {
	opts := &skillswap.CoordinatorOptions{
		Sessions: sessionStore(cfg),
		Logger:   logger,
	}
	if cfg.Default.SearchMode != "" {
		opts.SearchMode = skillswap.ParseSearchMode(cfg.Default.SearchMode)
	}
	coord := skillswap.NewCoordinator(newClient(cfg), opts)

	_, err := coord.RestoreSession(ctx)
	switch {
	case err == nil:
		return coord, nil
	case !requireAuth:
		logger.Debug("continuing without a session", "error", err)
		return coord, nil
	case errors.Is(err, skillswap.ErrNoSession):
		return nil, fmt.Errorf("not signed in. Run 'skillswap signin <username>' first")
	case skillswap.IsUnauthorized(err):
		return nil, fmt.Errorf("saved credentials were rejected. Run 'skillswap signin <username>' again")
	default:
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
}

// printOutput renders v in the selected output format. text is used for the
// human readable form.
func printOutput(v any, text func()) error {
	switch outputFormat {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("cannot encode output: %w", err)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("cannot encode output: %w", err)
		}
		fmt.Print(string(data))
	default:
		text()
	}
	return nil
}

// readAttachment loads an image file for sending. The MIME type is left for
// the client to guess from the extension.
func readAttachment(path string) (*skillswap.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image: %w", err)
	}
	return &skillswap.Attachment{FileName: filepath.Base(path), Data: data}, nil
}

// maskSecret shows only the first and last characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:1] + "..." + s[len(s)-1:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
