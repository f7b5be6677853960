package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"breakout/internal/strategy"
)

// DefaultPath is where the daemon and CLI look for the config file when
// BREAKOUT_CONFIG is unset.
const DefaultPath = "config/breakout.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the breakout trader.
type Config struct {
	Alpaca   Alpaca         `yaml:"alpaca"`
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Logging  Logging        `yaml:"logging"`
	Strategy StrategyConfig `yaml:"strategy"`
	Broker   BrokerConfig   `yaml:"broker"`
	Universe UniverseConfig `yaml:"universe"`
	Notify   NotifyConfig   `yaml:"notify"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Storage selects the per-day bar cache backend.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	Cache      string `yaml:"cache"` // parquet, sqlite or none
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StrategyConfig picks a named parameter preset and optionally overrides
// individual fields of it.
type StrategyConfig struct {
	Preset         string    `yaml:"preset"`
	StakePerOrder  float64   `yaml:"stake_per_order"`
	MaxPositionPct float64   `yaml:"max_position_pct"`
	Overrides      Overrides `yaml:"overrides"`
}

// Overrides replaces preset fields that are set. Pointers distinguish
// "unset" from an explicit zero.
type Overrides struct {
	BarsetRecords    *int     `yaml:"barset_records"`
	MovedDays        *int     `yaml:"moved_days"`
	MinPrice         *float64 `yaml:"min_price"`
	MaxPrice         *float64 `yaml:"max_price"`
	ChangeThreshold  *float64 `yaml:"change_threshold"`
	MinWeightage     *float64 `yaml:"min_weightage"`
	MaxNumStocks     *int     `yaml:"max_num_stocks"`
	StepFraction     *float64 `yaml:"step_fraction"`
	StopMultiplier   *float64 `yaml:"stop_multiplier"`
	TargetMultiplier *float64 `yaml:"target_multiplier"`
	AllowShort       *bool    `yaml:"allow_short"`
}

// BrokerConfig controls which brokerage is used and the gateway's
// wait/retry discipline.
type BrokerConfig struct {
	Mode              string        `yaml:"mode"` // alpaca or sim
	MaxRetries        int           `yaml:"max_retries"`
	CancelSettleDelay time.Duration `yaml:"cancel_settle_delay"`
	LiquidationDelay  time.Duration `yaml:"liquidation_delay"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ReadAttempts      int           `yaml:"read_attempts"`
	RateLimitPerMin   int           `yaml:"rate_limit_per_min"`
}

// UniverseConfig selects where the candidate symbols come from.
type UniverseConfig struct {
	Source         string        `yaml:"source"` // nasdaq or static
	Symbols        []string      `yaml:"symbols"`
	URL            string        `yaml:"url"`
	Limit          int           `yaml:"limit"`
	MarketCaps     []string      `yaml:"market_caps"`
	Recommendation []string      `yaml:"recommendation"`
	Retries        int           `yaml:"retries"`
	MaxJitter      time.Duration `yaml:"max_jitter"`
}

// NotifyConfig configures the notification sink. Pushover is used when both
// keys are present; otherwise notifications are only logged.
type NotifyConfig struct {
	PushoverUser  string        `yaml:"pushover_user"`
	PushoverToken string        `yaml:"pushover_token"`
	Attempts      int           `yaml:"attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ScheduleConfig holds the job clock. Specs are standard five-field cron
// expressions evaluated in Timezone.
type ScheduleConfig struct {
	Timezone          string        `yaml:"timezone"`
	InitialSteps      string        `yaml:"initial_steps"`
	Strategy          string        `yaml:"strategy"`
	Holdings          string        `yaml:"holdings"`
	HoldingsUntil     string        `yaml:"holdings_until"` // HH:MM
	BeforeMarketClose string        `yaml:"before_market_close"`
	AfterMarketClose  string        `yaml:"after_market_close"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns BREAKOUT_CONFIG when set, otherwise DefaultPath.
func Path() string {
	if v := os.Getenv("BREAKOUT_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, applies .env
// and environment overrides, fills defaults and validates the result. A
// missing file is not an error: defaults and the environment are enough to
// run.
func Load(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars, the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	// PUSHOVER_API_KEY is the user key, PUSHOVER_API_TOKEN the app token.
	if v := os.Getenv("PUSHOVER_API_KEY"); v != "" {
		cfg.Notify.PushoverUser = v
	}
	if v := os.Getenv("PUSHOVER_API_TOKEN"); v != "" {
		cfg.Notify.PushoverToken = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Alpaca.BaseURL == "" {
		cfg.Alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.Cache == "" {
		cfg.Storage.Cache = "parquet"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = cfg.Storage.DataDir + "/breakout.db"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Strategy.Preset == "" {
		cfg.Strategy.Preset = strategy.DefaultParams().Name
	}
	if cfg.Strategy.StakePerOrder == 0 {
		cfg.Strategy.StakePerOrder = 1000
	}

	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = "alpaca"
	}
	if cfg.Broker.MaxRetries == 0 {
		cfg.Broker.MaxRetries = 3
	}
	if cfg.Broker.CancelSettleDelay == 0 {
		cfg.Broker.CancelSettleDelay = 2 * time.Second
	}
	if cfg.Broker.LiquidationDelay == 0 {
		cfg.Broker.LiquidationDelay = 5 * time.Second
	}
	if cfg.Broker.PollInterval == 0 {
		cfg.Broker.PollInterval = 5 * time.Minute
	}
	if cfg.Broker.ReadAttempts == 0 {
		cfg.Broker.ReadAttempts = 3
	}
	if cfg.Broker.RateLimitPerMin == 0 {
		cfg.Broker.RateLimitPerMin = 200
	}

	if cfg.Universe.Source == "" {
		if len(cfg.Universe.Symbols) > 0 {
			cfg.Universe.Source = "static"
		} else {
			cfg.Universe.Source = "nasdaq"
		}
	}

	if cfg.Notify.Attempts == 0 {
		cfg.Notify.Attempts = 3
	}
	if cfg.Notify.RetryDelay == 0 {
		cfg.Notify.RetryDelay = 10 * time.Second
	}

	s := &cfg.Schedule
	if s.Timezone == "" {
		s.Timezone = "America/Los_Angeles"
	}
	if s.InitialSteps == "" {
		s.InitialSteps = "30 6 * * 1-5"
	}
	if s.Strategy == "" {
		s.Strategy = "*/1 7-11 * * 1-5"
	}
	if s.Holdings == "" {
		s.Holdings = "*/10 6-13 * * 1-5"
	}
	if s.HoldingsUntil == "" {
		s.HoldingsUntil = "13:10"
	}
	if s.BeforeMarketClose == "" {
		s.BeforeMarketClose = "30 12 * * 1-5"
	}
	if s.AfterMarketClose == "" {
		s.AfterMarketClose = "0 13 * * 1-5"
	}
	if s.JobTimeout == 0 {
		s.JobTimeout = 3 * time.Hour
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects settings the trader cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Broker.Mode {
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("alpaca: api_key and api_secret are required in alpaca mode"))
		}
	case "sim":
	default:
		errs = append(errs, fmt.Errorf("broker.mode %q: want alpaca or sim", c.Broker.Mode))
	}

	switch c.Storage.Cache {
	case "parquet", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.cache %q: want parquet, sqlite or none", c.Storage.Cache))
	}

	switch c.Universe.Source {
	case "nasdaq":
	case "static":
		if len(c.Universe.Symbols) == 0 {
			errs = append(errs, errors.New("universe: static source needs symbols"))
		}
	default:
		errs = append(errs, fmt.Errorf("universe.source %q: want nasdaq or static", c.Universe.Source))
	}

	if c.Strategy.StakePerOrder <= 0 {
		errs = append(errs, fmt.Errorf("strategy.stake_per_order must be positive, got %v", c.Strategy.StakePerOrder))
	}
	if c.Strategy.MaxPositionPct < 0 || c.Strategy.MaxPositionPct > 1 {
		errs = append(errs, fmt.Errorf("strategy.max_position_pct must be within [0, 1], got %v", c.Strategy.MaxPositionPct))
	}
	if c.Broker.MaxRetries < 1 {
		errs = append(errs, errors.New("broker.max_retries must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if _, _, err := ParseClock(c.Schedule.HoldingsUntil); err != nil {
		errs = append(errs, fmt.Errorf("schedule.holdings_until: %w", err))
	}
	return errors.Join(errs...)
}

// Params resolves the configured preset from reg and applies overrides.
func (c *Config) Params(reg *strategy.Registry) (strategy.Params, error) {
	p, ok := reg.Get(c.Strategy.Preset)
	if !ok {
		return strategy.Params{}, fmt.Errorf("unknown strategy preset %q (have %s)",
			c.Strategy.Preset, strings.Join(reg.List(), ", "))
	}
	o := c.Strategy.Overrides
	setInt(&p.BarsetRecords, o.BarsetRecords)
	setInt(&p.MovedDays, o.MovedDays)
	setFloat(&p.MinPrice, o.MinPrice)
	setFloat(&p.MaxPrice, o.MaxPrice)
	setFloat(&p.ChangeThreshold, o.ChangeThreshold)
	setFloat(&p.MinWeightage, o.MinWeightage)
	setInt(&p.MaxNumStocks, o.MaxNumStocks)
	setFloat(&p.StepFraction, o.StepFraction)
	setFloat(&p.StopMultiplier, o.StopMultiplier)
	setFloat(&p.TargetMultiplier, o.TargetMultiplier)
	if o.AllowShort != nil {
		p.AllowShort = *o.AllowShort
	}
	if err := p.Validate(); err != nil {
		return strategy.Params{}, fmt.Errorf("strategy %q: %w", p.Name, err)
	}
	return p, nil
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
