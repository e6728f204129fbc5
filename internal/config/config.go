package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Logging struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"` // json | text
	Output     string `json:"output" yaml:"output"` // stdout | stderr | file path
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

type Yahoo struct {
	Enabled              bool   `json:"enabled" yaml:"enabled"`
	Endpoint             string `json:"endpoint" yaml:"endpoint"`
	ProbeSymbol          string `json:"probe_symbol" yaml:"probe_symbol"`
	UserAgent            string `json:"user_agent" yaml:"user_agent"`
	CacheTTLMillis       int    `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Burst                int    `json:"burst" yaml:"burst"`
	MinRequestIntervalMs int    `json:"min_request_interval_ms" yaml:"min_request_interval_ms"`
}

type Bulk struct {
	BatchSize  int    `json:"batch_size" yaml:"batch_size"`
	CooldownMs int    `json:"cooldown_ms" yaml:"cooldown_ms"`
	Period     string `json:"period" yaml:"period"`
}

type Paper struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	InitialCash string `json:"initial_cash" yaml:"initial_cash"`
	// PriceVendor is the registry id market orders are priced from.
	PriceVendor string `json:"price_vendor" yaml:"price_vendor"`
}

// Cash parses InitialCash.
func (p Paper) Cash() (decimal.Decimal, error) {
	if strings.TrimSpace(p.InitialCash) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(p.InitialCash))
	if err != nil {
		return decimal.Zero, fmt.Errorf("paper initial_cash: %w", err)
	}
	return d, nil
}

type Config struct {
	Server  Server  `json:"server" yaml:"server"`
	Logging Logging `json:"logging" yaml:"logging"`
	Yahoo   Yahoo   `json:"yahoo" yaml:"yahoo"`
	Bulk    Bulk    `json:"bulk" yaml:"bulk"`
	Paper   Paper   `json:"paper" yaml:"paper"`
}

func Default() Config {
	return Config{
		Server:  Server{Port: "8080", RequestTimeoutSec: 15},
		Logging: Logging{Level: "info", Format: "text", Output: "stdout"},
		Yahoo: Yahoo{
			Enabled:        true,
			Endpoint:       "https://query1.finance.yahoo.com/v8/finance/chart",
			ProbeSymbol:    "AAPL",
			UserAgent:      "Mozilla/5.0 (compatible; vendorhub/1.0)",
			CacheTTLMillis: 30_000,
			Burst:          1,
		},
		Bulk: Bulk{BatchSize: 10, CooldownMs: 1000, Period: "1mo"},
		Paper: Paper{
			Enabled:     true,
			InitialCash: "100000",
			PriceVendor: "yahoo",
		},
	}
}

var defaultPaths = []string{"config.yaml", "config.yml", "config.json"}

// Load reads config from path, YAML for .yaml/.yml and JSON otherwise. If
// path is empty the first existing default file is used; a missing file
// yields defaults. A .env file in the working directory is loaded first, so
// its values reach both ${VAR} expansion and environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) {
	envString("PORT", &cfg.Server.Port)
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
	envString("LOG_OUTPUT", &cfg.Logging.Output)
	envInt("LOG_MAX_AGE_DAYS", 0, &cfg.Logging.MaxAgeDays)

	envBool("YAHOO_ENABLED", &cfg.Yahoo.Enabled)
	envString("YAHOO_ENDPOINT", &cfg.Yahoo.Endpoint)
	envString("YAHOO_PROBE_SYMBOL", &cfg.Yahoo.ProbeSymbol)
	envString("YAHOO_USER_AGENT", &cfg.Yahoo.UserAgent)
	envInt("YAHOO_CACHE_TTL_MS", -1, &cfg.Yahoo.CacheTTLMillis)
	envInt("YAHOO_MAX_RPM", 0, &cfg.Yahoo.MaxRequestsPerMinute)
	envInt("YAHOO_BURST", 1, &cfg.Yahoo.Burst)
	envInt("YAHOO_MIN_INTERVAL_MS", 0, &cfg.Yahoo.MinRequestIntervalMs)

	envInt("BULK_BATCH_SIZE", 1, &cfg.Bulk.BatchSize)
	envInt("BULK_COOLDOWN_MS", 0, &cfg.Bulk.CooldownMs)
	envString("BULK_PERIOD", &cfg.Bulk.Period)

	envBool("PAPER_ENABLED", &cfg.Paper.Enabled)
	envString("PAPER_INITIAL_CASH", &cfg.Paper.InitialCash)
	envString("PAPER_PRICE_VENDOR", &cfg.Paper.PriceVendor)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// envInt sets dst when the variable parses to an int >= min.
func envInt(key string, min int, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if x, err := strconv.Atoi(v); err == nil && x >= min {
		*dst = x
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
