package config

import (
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"dca_bot/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the optional YAML file read when CONFIG_PATH is unset.
const DefaultPath = "dca_bot.yaml"

// ErrMissingCredentials means a collaborator has no credentials configured.
var ErrMissingCredentials = errors.New("missing credentials")

// MarketLoc is the exchange time zone. The effective weekday is taken in this zone.
var MarketLoc = loadMarketLoc()

func loadMarketLoc() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// secretVars are masked when the .env file is echoed at startup.
var secretVars = map[string]bool{
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"TELEGRAM_BOT_TOKEN":  true,
}

// StrategySettings mirrors strategy.Config with plain YAML-friendly types.
type StrategySettings struct {
	Ticker              string  `yaml:"ticker"`
	ReferenceTicker     string  `yaml:"reference_ticker"`
	RallyThreshold      float64 `yaml:"rally_threshold"`
	BaseDCAAmount       float64 `yaml:"base_dca_amount"`
	DipBuyAmount        float64 `yaml:"dip_buy_amount"`
	HarvestCapWeight    float64 `yaml:"harvest_cap_weight"`
	HarvestTargetWeight float64 `yaml:"harvest_target_weight"`
	LookbackWindow      int     `yaml:"lookback_window"`
	// RecentWindow is the number of daily bars fetched for the Friday green check.
	RecentWindow int `yaml:"recent_window"`
}

// Config holds all application configuration.
type Config struct {
	Version string `yaml:"-"`

	Alpaca struct {
		KeyID     string `yaml:"-"`
		SecretKey string `yaml:"-"`
		BaseURL   string `yaml:"base_url"`
		Feed      string `yaml:"feed"`
	} `yaml:"alpaca"`

	Telegram struct {
		BotToken string `yaml:"-"`
		ChatID   string `yaml:"chat_id"`
		Retries  int    `yaml:"retries"`
	} `yaml:"telegram"`

	Strategy StrategySettings `yaml:"strategy"`

	DataSource string `yaml:"data_source"` // alpaca or yahoo
	Proxy      string `yaml:"proxy"`
	Schedule   string `yaml:"schedule"` // cron expression of the external scheduler, used for reporting

	Retry struct {
		Attempts        int           `yaml:"attempts"`
		InitialInterval time.Duration `yaml:"initial_interval"`
	} `yaml:"retry"`

	Log struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int64  `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`

	Journal struct {
		ReportFile string `yaml:"report_file"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"journal"`
}

// Load initializes the configuration.
// It reads a .env file into the process environment, overlays the optional YAML file
// at path, applies environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	} else {
		printEnvFile()
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read config")
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns the built-in configuration without reading any file or the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	c.Alpaca.KeyID = os.Getenv("APCA_API_KEY_ID")
	c.Alpaca.SecretKey = os.Getenv("APCA_API_SECRET_KEY")
	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	overrideString(&c.Alpaca.BaseURL, "APCA_API_BASE_URL")
	overrideString(&c.Alpaca.Feed, "APCA_DATA_FEED")
	overrideString(&c.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	overrideString(&c.DataSource, "DCA_DATA_SOURCE")
	overrideString(&c.Proxy, "HTTPS_PROXY")
	overrideString(&c.Schedule, "DCA_SCHEDULE")
	overrideString(&c.Log.File, "DCA_LOG_FILE")
	overrideString(&c.Log.Level, "DCA_LOG_LEVEL")
	overrideString(&c.Journal.ReportFile, "DCA_REPORT_FILE")
	overrideString(&c.Journal.SQLitePath, "DCA_SQLITE_PATH")

	s := &c.Strategy
	overrideString(&s.Ticker, "DCA_TICKER")
	overrideString(&s.ReferenceTicker, "DCA_REFERENCE_TICKER")
	s.RallyThreshold = getEnvAsFloat64("DCA_RALLY_THRESHOLD", s.RallyThreshold)
	s.BaseDCAAmount = getEnvAsFloat64("DCA_BASE_AMOUNT", s.BaseDCAAmount)
	s.DipBuyAmount = getEnvAsFloat64("DCA_DIP_AMOUNT", s.DipBuyAmount)
	s.HarvestCapWeight = getEnvAsFloat64("DCA_HARVEST_CAP", s.HarvestCapWeight)
	s.HarvestTargetWeight = getEnvAsFloat64("DCA_HARVEST_TARGET", s.HarvestTargetWeight)
	s.LookbackWindow = getEnvAsInt("DCA_LOOKBACK_WINDOW", s.LookbackWindow)
	s.RecentWindow = getEnvAsInt("DCA_RECENT_WINDOW", s.RecentWindow)
}

func (c *Config) applyDefaults() {
	def := strategy.DefaultConfig()
	s := &c.Strategy
	if s.Ticker == "" {
		s.Ticker = def.Ticker
	}
	if s.ReferenceTicker == "" {
		s.ReferenceTicker = def.ReferenceTicker
	}
	if s.RallyThreshold == 0 {
		s.RallyThreshold = def.RallyThreshold.InexactFloat64()
	}
	if s.BaseDCAAmount == 0 {
		s.BaseDCAAmount = def.BaseDCAAmount.InexactFloat64()
	}
	if s.DipBuyAmount == 0 {
		s.DipBuyAmount = def.DipBuyAmount.InexactFloat64()
	}
	if s.HarvestCapWeight == 0 {
		s.HarvestCapWeight = def.HarvestCapWeight.InexactFloat64()
	}
	if s.HarvestTargetWeight == 0 {
		s.HarvestTargetWeight = def.HarvestTargetWeight.InexactFloat64()
	}
	if s.LookbackWindow == 0 {
		s.LookbackWindow = def.LookbackWindow
	}
	if s.RecentWindow == 0 {
		s.RecentWindow = 5
	}

	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = "https://paper-api.alpaca.markets" // use https://api.alpaca.markets for live
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Telegram.Retries == 0 {
		c.Telegram.Retries = 2
	}
	if c.DataSource == "" {
		c.DataSource = "alpaca"
	}
	if c.Schedule == "" {
		c.Schedule = "35 9 * * 2,5" // Tuesday and Friday after the open
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = time.Second
	}
	if c.Log.File == "" {
		c.Log.File = "dca_bot.log"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 5
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Journal.ReportFile == "" {
		c.Journal.ReportFile = "last_run.json"
	}
}

// StrategyConfig converts the settings into the engine's configuration.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Strategy
	return strategy.Config{
		Ticker:              strings.ToUpper(s.Ticker),
		ReferenceTicker:     strings.ToUpper(s.ReferenceTicker),
		RallyThreshold:      decimal.NewFromFloat(s.RallyThreshold),
		BaseDCAAmount:       decimal.NewFromFloat(s.BaseDCAAmount),
		DipBuyAmount:        decimal.NewFromFloat(s.DipBuyAmount),
		HarvestCapWeight:    decimal.NewFromFloat(s.HarvestCapWeight),
		HarvestTargetWeight: decimal.NewFromFloat(s.HarvestTargetWeight),
		LookbackWindow:      s.LookbackWindow,
	}
}

// Validate checks every value the run depends on. Credentials are checked separately
// because dry runs may go without them.
func (c *Config) Validate() error {
	if err := c.StrategyConfig().Validate(); err != nil {
		return errors.Wrap(err, "strategy")
	}
	if c.Strategy.RecentWindow < 1 {
		return errors.Errorf("strategy.recent_window must be at least 1, got %d", c.Strategy.RecentWindow)
	}
	switch c.DataSource {
	case "alpaca", "yahoo":
	default:
		return errors.Errorf("data_source must be alpaca or yahoo, got %q", c.DataSource)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return errors.Wrapf(err, "schedule %q", c.Schedule)
	}
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG", "INFO":
	default:
		return errors.Errorf("log.level must be DEBUG or INFO, got %q", c.Log.Level)
	}
	if c.Retry.Attempts < 1 {
		return errors.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	return nil
}

// RequireBroker reports ErrMissingCredentials when the Alpaca keys are absent.
func (c *Config) RequireBroker() error {
	var missing []string
	if c.Alpaca.KeyID == "" {
		missing = append(missing, "APCA_API_KEY_ID")
	}
	if c.Alpaca.SecretKey == "" {
		missing = append(missing, "APCA_API_SECRET_KEY")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMissingCredentials, "brokerage: %s", strings.Join(missing, ", "))
	}
	return nil
}

// HasTelegram reports whether alerts can be delivered.
func (c *Config) HasTelegram() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// NextRun returns the next time the configured schedule fires after t.
func (c *Config) NextRun(t time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t.In(MarketLoc)), nil
}

// printEnvFile logs the variables defined in .env, masking secrets to their last 4 chars.
func printEnvFile() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	log.Println("--- .env File Variables ---")
	for _, key := range keys {
		log.Printf("%s=%s", key, maskValue(key, envMap[key]))
	}
	log.Println("---------------------------")
}

func maskValue(key, val string) string {
	if !secretVars[key] {
		return val
	}
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
