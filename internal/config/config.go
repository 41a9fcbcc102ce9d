package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the desk companion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	GitHubToken  string
	GitHubAPIURL string
	GitHubRepos  []string

	CompletionMode    string
	CompletionHTTPURL string
	CompletionModel   string

	ConfirmTimeout time.Duration
	MaxToolRounds  int

	CacheTTLCI      time.Duration
	CacheTTLCommits time.Duration

	StandupLookback time.Duration

	DeployWorkflow string
	DeployRef      string

	TranscriberHTTPURL string
	ButtonDebounce     time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "devdash"),
		AllowAnyOrigin:     false,
		GitHubToken:        trimmedEnv("GITHUB_TOKEN"),
		GitHubAPIURL:       envOrDefault("GITHUB_API_URL", "https://api.github.com"),
		GitHubRepos:        splitRepos(os.Getenv("GITHUB_REPOS")),
		CompletionMode:     envOrDefault("COMPLETION_MODE", "auto"),
		CompletionHTTPURL:  trimmedEnv("COMPLETION_HTTP_URL"),
		CompletionModel:    envOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		DeployWorkflow:     envOrDefault("DEPLOY_WORKFLOW", "deploy.yml"),
		DeployRef:          envOrDefault("DEPLOY_REF", "main"),
		TranscriberHTTPURL: trimmedEnv("TRANSCRIBER_HTTP_URL"),
		DatabaseURL:        trimmedEnv("DATABASE_URL"),
		ButtonDebounce:     200 * time.Millisecond,
		ShutdownTimeout:    15 * time.Second,
		ConfirmTimeout:     30 * time.Second,
		MaxToolRounds:      5,
		CacheTTLCI:         60 * time.Second,
		CacheTTLCommits:    15 * time.Minute,
		StandupLookback:    16 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConfirmTimeout, err = durationFromEnv("CONFIRM_TIMEOUT", cfg.ConfirmTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTLCI, err = durationFromEnv("CACHE_TTL_CI", cfg.CacheTTLCI)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTLCommits, err = durationFromEnv("CACHE_TTL_COMMITS", cfg.CacheTTLCommits)
	if err != nil {
		return Config{}, err
	}
	cfg.StandupLookback, err = durationFromEnv("STANDUP_LOOKBACK", cfg.StandupLookback)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxToolRounds, err = intFromEnv("MAX_TOOL_ROUNDS", cfg.MaxToolRounds)
	if err != nil {
		return Config{}, err
	}
	cfg.ButtonDebounce, err = durationFromEnv("BUTTON_DEBOUNCE", cfg.ButtonDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ConfirmTimeout < time.Second {
		return Config{}, fmt.Errorf("CONFIRM_TIMEOUT must be at least 1s")
	}
	if cfg.MaxToolRounds <= 0 {
		return Config{}, fmt.Errorf("MAX_TOOL_ROUNDS must be positive")
	}
	if cfg.CacheTTLCI <= 0 || cfg.CacheTTLCommits <= 0 {
		return Config{}, fmt.Errorf("cache TTLs must be positive")
	}
	if cfg.StandupLookback <= 0 {
		return Config{}, fmt.Errorf("STANDUP_LOOKBACK must be positive")
	}

	return cfg, nil
}

func splitRepos(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
