package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ducminhle1904/signal-bridge/internal/bridge"
	"github.com/ducminhle1904/signal-bridge/internal/logger"
	"github.com/ducminhle1904/signal-bridge/internal/notifications"
	"github.com/ducminhle1904/signal-bridge/internal/pipeline"
	"github.com/ducminhle1904/signal-bridge/internal/safety"
	"github.com/ducminhle1904/signal-bridge/internal/sizing"
	"github.com/ducminhle1904/signal-bridge/internal/terminal"
	"github.com/ducminhle1904/signal-bridge/internal/webhook"
	"github.com/ducminhle1904/signal-bridge/pkg/types"
)

// Config is the complete configuration of the signal bridge
type Config struct {
	HTTP     HTTPConfig     `json:"http" yaml:"http"`
	Bridge   BridgeConfig   `json:"bridge" yaml:"bridge"`
	Timeouts TimeoutsConfig `json:"timeouts" yaml:"timeouts"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Account  AccountConfig  `json:"account" yaml:"account"`
	Sizing   SizingConfig   `json:"sizing" yaml:"sizing"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify"`

	// Correlations are pair coefficients keyed "EURUSD/GBPUSD", merged over the built-in table
	Correlations map[string]float64 `json:"correlations,omitempty" yaml:"correlations,omitempty"`

	// Strategies and RiskConfigs are seeded into the store at startup
	Strategies  []types.Strategy   `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	RiskConfigs []types.RiskConfig `json:"risk_configs,omitempty" yaml:"risk_configs,omitempty"`
}

// HTTPConfig holds webhook and operator API settings
type HTTPConfig struct {
	Addr          string  `json:"addr" yaml:"addr"`
	Token         string  `json:"token" yaml:"token"`
	RateLimit     int     `json:"rate_limit" yaml:"rate_limit"`
	RatePerSecond float64 `json:"rate_per_second" yaml:"rate_per_second"`
}

// BridgeConfig holds the file bridge location and timings
type BridgeConfig struct {
	Dir                string `json:"dir" yaml:"dir"`
	PollIntervalMs     int    `json:"poll_interval_ms" yaml:"poll_interval_ms"`
	ConsumeTimeoutSecs int    `json:"consume_timeout_secs" yaml:"consume_timeout_secs"`
	DefaultTimeoutSecs int    `json:"default_timeout_secs" yaml:"default_timeout_secs"`
	PingTimeoutSecs    int    `json:"ping_timeout_secs" yaml:"ping_timeout_secs"`
	ProbeIntervalSecs  int    `json:"probe_interval_secs" yaml:"probe_interval_secs"`
	RequirePing        bool   `json:"require_ping" yaml:"require_ping"`
	MalformedRetries   int    `json:"malformed_retries" yaml:"malformed_retries"`
	QueueSize          int    `json:"queue_size" yaml:"queue_size"`
}

// TimeoutsConfig holds per-operation terminal timeouts in seconds
type TimeoutsConfig struct {
	MarketSecs int `json:"market_secs" yaml:"market_secs"`
	LimitSecs  int `json:"limit_secs" yaml:"limit_secs"`
	CloseSecs  int `json:"close_secs" yaml:"close_secs"`
	QuerySecs  int `json:"query_secs" yaml:"query_secs"`
}

// PipelineConfig holds dispatch cadence and breaker settings
type PipelineConfig struct {
	IntervalMs           int    `json:"interval_ms" yaml:"interval_ms"`
	BatchSize            int    `json:"batch_size" yaml:"batch_size"`
	PauseMs              int    `json:"pause_ms" yaml:"pause_ms"`
	BreakerFailures      uint32 `json:"breaker_failures" yaml:"breaker_failures"`
	BreakerSuccesses     uint32 `json:"breaker_successes" yaml:"breaker_successes"`
	BreakerTimeoutSecs   int    `json:"breaker_timeout_secs" yaml:"breaker_timeout_secs"`
	PendingGraceSecs     int    `json:"pending_grace_secs" yaml:"pending_grace_secs"`
	PendingMaxAgeSecs    int    `json:"pending_max_age_secs" yaml:"pending_max_age_secs"`
	SignalMaxAgeSecs     int    `json:"signal_max_age_secs" yaml:"signal_max_age_secs"`
	ReconcileIntervalSec int    `json:"reconcile_interval_secs" yaml:"reconcile_interval_secs"`
}

// AccountConfig controls account snapshot caching
type AccountConfig struct {
	SnapshotMaxAgeSecs int    `json:"snapshot_max_age_secs" yaml:"snapshot_max_age_secs"`
	Timezone           string `json:"timezone" yaml:"timezone"` // decides the trading day for realized P&L
}

// SizingConfig overrides symbol data and the margin safety factor
type SizingConfig struct {
	SafetyFactor float64                      `json:"safety_factor" yaml:"safety_factor"`
	Symbols      map[string]sizing.SymbolSpec `json:"symbols,omitempty" yaml:"symbols,omitempty"`
}

// StoreConfig holds the state file location
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Dir     string `json:"dir" yaml:"dir"`
	Console bool   `json:"console" yaml:"console"`
}

// NotifyConfig holds the optional Telegram alert channel
type NotifyConfig struct {
	TelegramToken  string `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id,omitempty"`
}

// DefaultConfig returns a configuration usable without a file
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:          ":8080",
			RateLimit:     10,
			RatePerSecond: 1,
		},
		Bridge: BridgeConfig{
			Dir:                "bridge",
			PollIntervalMs:     200,
			ConsumeTimeoutSecs: 10,
			DefaultTimeoutSecs: 30,
			PingTimeoutSecs:    5,
			ProbeIntervalSecs:  30,
			RequirePing:        true,
			MalformedRetries:   3,
			QueueSize:          64,
		},
		Timeouts: TimeoutsConfig{
			MarketSecs: 30,
			LimitSecs:  15,
			CloseSecs:  20,
			QuerySecs:  10,
		},
		Pipeline: PipelineConfig{
			IntervalMs:           5000,
			BatchSize:            5,
			PauseMs:              500,
			BreakerFailures:      5,
			BreakerSuccesses:     1,
			BreakerTimeoutSecs:   60,
			PendingGraceSecs:     30,
			PendingMaxAgeSecs:    300,
			SignalMaxAgeSecs:     900,
			ReconcileIntervalSec: 60,
		},
		Account: AccountConfig{
			SnapshotMaxAgeSecs: 30,
			Timezone:           "UTC",
		},
		Sizing: SizingConfig{SafetyFactor: 0.9},
		Store:  StoreConfig{Path: "data/state.json"},
		Log: LogConfig{
			Level:   "info",
			Dir:     "logs",
			Console: true,
		},
	}
}

// LoadDotEnv loads environment variables from an env file. A missing
// default .env is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads a JSON or YAML file over the defaults, applies environment
// overrides and validates the result. An empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// Save writes the configuration as YAML or JSON depending on the extension
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	c.Bridge.Dir = getEnv("BRIDGE_DIR", c.Bridge.Dir)
	c.HTTP.Token = getEnv("WEBHOOK_TOKEN", c.HTTP.Token)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)
	c.Store.Path = getEnv("STORE_PATH", c.Store.Path)
	c.HTTP.RateLimit = getEnvInt("WEBHOOK_RATE_LIMIT", c.HTTP.RateLimit)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
}

// Validate checks the configuration for values the bridge cannot run with
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bridge.Dir) == "" {
		return fmt.Errorf("bridge directory is required")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http address is required")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		return fmt.Errorf("telegram notifications need both a bot token and a chat id")
	}
	if c.Bridge.PollIntervalMs <= 0 {
		return fmt.Errorf("bridge poll interval must be greater than 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline batch size must be greater than 0")
	}
	if c.Pipeline.IntervalMs <= 0 {
		return fmt.Errorf("pipeline interval must be greater than 0")
	}
	if c.Pipeline.PendingMaxAgeSecs > 0 && c.Pipeline.PendingMaxAgeSecs < c.Pipeline.PendingGraceSecs {
		return fmt.Errorf("pending max age (%ds) must not be shorter than the pending grace (%ds)",
			c.Pipeline.PendingMaxAgeSecs, c.Pipeline.PendingGraceSecs)
	}
	if c.Pipeline.SignalMaxAgeSecs > 0 && c.Pipeline.SignalMaxAgeSecs < c.Pipeline.PendingMaxAgeSecs {
		return fmt.Errorf("signal max age (%ds) must not be shorter than the pending max age (%ds)",
			c.Pipeline.SignalMaxAgeSecs, c.Pipeline.PendingMaxAgeSecs)
	}
	if c.Sizing.SafetyFactor < 0 || c.Sizing.SafetyFactor > 1 {
		return fmt.Errorf("sizing safety factor must be between 0 and 1")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	for symbol, spec := range c.Sizing.Symbols {
		if spec.PointFactor < 0 || spec.Leverage < 0 || spec.ContractSize < 0 {
			return fmt.Errorf("symbol %s: point factor, leverage and contract size must not be negative", symbol)
		}
		if spec.MaxPrice > 0 && spec.MaxPrice <= spec.MinPrice {
			return fmt.Errorf("symbol %s: max price must exceed min price", symbol)
		}
	}
	for pair, coef := range c.Correlations {
		if !strings.Contains(pair, "/") {
			return fmt.Errorf("correlation key %q must look like EURUSD/GBPUSD", pair)
		}
		if coef < -1 || coef > 1 {
			return fmt.Errorf("correlation %s must be between -1 and 1", pair)
		}
	}

	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate strategy %s", s.Name)
		}
		seen[s.Name] = true
		if s.DefaultRiskPercent <= 0 || s.DefaultRiskPercent > 100 {
			return fmt.Errorf("strategy %s: risk percent must be in (0, 100]", s.Name)
		}
		if s.MaxLotSize < 0 {
			return fmt.Errorf("strategy %s: max lot size must not be negative", s.Name)
		}
	}
	for _, rc := range c.RiskConfigs {
		if rc.StrategyID != "" && !seen[rc.StrategyID] {
			return fmt.Errorf("risk config references unknown strategy %s", rc.StrategyID)
		}
		if rc.MaxDailyLoss < 0 || rc.MaxDrawdown < 0 || rc.MaxLotSize < 0 {
			return fmt.Errorf("risk config %q: limits must not be negative", rc.StrategyID)
		}
	}
	return nil
}

// Location returns the account timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Account.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Account.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid account timezone %q: %w", c.Account.Timezone, err)
	}
	return loc, nil
}

// BridgeSettings converts the bridge section for the file transport
func (c *Config) BridgeSettings() bridge.Config {
	b := bridge.DefaultConfig(c.Bridge.Dir)
	b.PollInterval = millis(c.Bridge.PollIntervalMs, b.PollInterval)
	b.ConsumeTimeout = seconds(c.Bridge.ConsumeTimeoutSecs, b.ConsumeTimeout)
	b.DefaultTimeout = seconds(c.Bridge.DefaultTimeoutSecs, b.DefaultTimeout)
	b.PingTimeout = seconds(c.Bridge.PingTimeoutSecs, b.PingTimeout)
	b.ProbeInterval = seconds(c.Bridge.ProbeIntervalSecs, b.ProbeInterval)
	b.RequirePing = c.Bridge.RequirePing
	if c.Bridge.MalformedRetries > 0 {
		b.MalformedRetries = c.Bridge.MalformedRetries
	}
	if c.Bridge.QueueSize > 0 {
		b.QueueSize = c.Bridge.QueueSize
	}
	return b
}

// TerminalTimeouts converts the per-operation timeouts
func (c *Config) TerminalTimeouts() terminal.Timeouts {
	def := terminal.DefaultTimeouts()
	return terminal.Timeouts{
		Market: seconds(c.Timeouts.MarketSecs, def.Market),
		Limit:  seconds(c.Timeouts.LimitSecs, def.Limit),
		Close:  seconds(c.Timeouts.CloseSecs, def.Close),
		Query:  seconds(c.Timeouts.QuerySecs, def.Query),
	}
}

// PipelineSettings converts the pipeline section
func (c *Config) PipelineSettings() pipeline.Config {
	def := pipeline.DefaultConfig()
	p := pipeline.Config{
		Interval:  millis(c.Pipeline.IntervalMs, def.Interval),
		BatchSize: c.Pipeline.BatchSize,
		Pause:     time.Duration(c.Pipeline.PauseMs) * time.Millisecond,
		Breaker: safety.CircuitBreakerConfig{
			FailureThreshold: c.Pipeline.BreakerFailures,
			SuccessThreshold: c.Pipeline.BreakerSuccesses,
			Timeout:          seconds(c.Pipeline.BreakerTimeoutSecs, def.Breaker.Timeout),
		},
		PendingGrace:  seconds(c.Pipeline.PendingGraceSecs, def.PendingGrace),
		PendingMaxAge: seconds(c.Pipeline.PendingMaxAgeSecs, def.PendingMaxAge),
		SignalMaxAge:  seconds(c.Pipeline.SignalMaxAgeSecs, def.SignalMaxAge),
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if p.Breaker.FailureThreshold == 0 {
		p.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if p.Breaker.SuccessThreshold == 0 {
		p.Breaker.SuccessThreshold = def.Breaker.SuccessThreshold
	}
	return p
}

// ReconcileInterval is the reconciler period
func (c *Config) ReconcileInterval() time.Duration {
	return seconds(c.Pipeline.ReconcileIntervalSec, pipeline.DefaultReconcileInterval)
}

// SnapshotMaxAge is how long account snapshots are cached
func (c *Config) SnapshotMaxAge() time.Duration {
	return seconds(c.Account.SnapshotMaxAgeSecs, 30*time.Second)
}

// WebhookSettings converts the HTTP section
func (c *Config) WebhookSettings() webhook.Config {
	return webhook.Config{
		Token:         c.HTTP.Token,
		RateLimit:     c.HTTP.RateLimit,
		RatePerSecond: c.HTTP.RatePerSecond,
	}
}

// LoggerOptions converts the log section
func (c *Config) LoggerOptions(name string) logger.Options {
	return logger.Options{
		Level:   c.Log.Level,
		Dir:     c.Log.Dir,
		Name:    name,
		Console: c.Log.Console,
	}
}

// Notifier returns the configured alert channel, or nil when none is set
func (c *Config) Notifier() notifications.Notifier {
	if c.Notify.TelegramToken == "" {
		return nil
	}
	return notifications.NewTelegramNotifier(c.Notify.TelegramToken, c.Notify.TelegramChatID)
}

// SymbolTable builds the sizing symbol table with configured overrides
func (c *Config) SymbolTable() *sizing.SymbolTable {
	return sizing.NewSymbolTable(c.Sizing.Symbols)
}

func millis(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
