package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	BotToken string `json:"bot_token"`
	DataDir  string `json:"data_dir"`
	Timezone string `json:"timezone,omitempty"`

	// Market data.
	HTTPTimeoutSec  float64 `json:"http_timeout_sec,omitempty"`
	QuoteTTLSec     int     `json:"quote_ttl_sec,omitempty"`
	KeyRateFallback float64 `json:"key_rate_fallback,omitempty"` // fraction, e.g. 0.16; <0 disables

	// Aggregator credentials (optional; without them aggregator-routed quotes
	// come back with reason missing_api_key instead of a price).
	TwelveDataAPIKey string `json:"twelvedata_api_key,omitempty"`
	FinnhubAPIKey    string `json:"finnhub_api_key,omitempty"`

	// Idea sources.
	FREDAPIKey   string `json:"fred_api_key,omitempty"`
	SECUserAgent string `json:"sec_user_agent,omitempty"`

	// Idea ranking knobs.
	IdeasMinSources     int     `json:"ideas_min_sources,omitempty"`
	IdeasMaxAgeDays     int     `json:"ideas_max_age_days,omitempty"`
	IdeasTopN           int     `json:"ideas_topn,omitempty"`
	IdeasScoreThreshold float64 `json:"ideas_score_threshold,omitempty"`

	// Broker tradable-universe filter.
	BrokerFilterEnabled bool   `json:"broker_filter_enabled,omitempty"`
	BrokerUniversePath  string `json:"broker_universe_path,omitempty"`

	Debug bool `json:"debug,omitempty"`
}

func DefaultDataDir() string {
	if v := os.Getenv("TGFIN_DATA_DIR"); v != "" {
		return v
	}
	return "/var/lib/tg-fin-assistant"
}

func DefaultConfigPath() string {
	if v := os.Getenv("TGFIN_CONFIG"); v != "" {
		return v
	}
	return "/etc/tg-fin-assistant/config.json"
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := defaults()
	if b, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config json: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)

	if cfg.BotToken == "" {
		return Config{}, fmt.Errorf("missing bot_token (set in %s or BOT_TOKEN env)", path)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Timezone:            "Europe/Moscow",
		HTTPTimeoutSec:      5,
		QuoteTTLSec:         600,
		KeyRateFallback:     0.16,
		SECUserAgent:        "tg-fin-assistant/1.0",
		IdeasMinSources:     2,
		IdeasMaxAgeDays:     90,
		IdeasTopN:           5,
		IdeasScoreThreshold: 0.6,
		BrokerFilterEnabled: true,
		BrokerUniversePath:  "data/tbank_universe.yml",
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("TGFIN_BOT_TOKEN"); v != "" {
		cfg.BotToken = v
	}
	if v := os.Getenv("TGFIN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TWELVEDATA_API_KEY"); v != "" {
		cfg.TwelveDataAPIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.FinnhubAPIKey = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		cfg.FREDAPIKey = v
	}
	if v := os.Getenv("TGFIN_KEY_RATE_FALLBACK"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.KeyRateFallback = f
		}
	}
	if v := os.Getenv("TGFIN_HTTP_TIMEOUT_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.HTTPTimeoutSec = f
		}
	}
	if v := os.Getenv("TGFIN_QUOTE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QuoteTTLSec = n
		}
	}
	if v := os.Getenv("TGFIN_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
}
