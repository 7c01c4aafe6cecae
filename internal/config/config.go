// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/plan"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/schedule"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Schedule holds the purchase cadence; invocation ids derive from its cron expression.
type Schedule struct {
	Cron string `yaml:"cron"`
}

// Exchange describes exchange connectivity and confirmation behavior.
type Exchange struct {
	Name               string `yaml:"name"`
	BaseURL            string `yaml:"base_url"`
	DefaultFeeBps      int    `yaml:"default_fee_bps"`
	ConfirmMode        string `yaml:"confirm_mode"` // off | poll | events
	ConfirmTimeoutSecs int    `yaml:"confirm_timeout_secs"`
}

// PlanLine configures one asset of the purchase plan. Numeric money
// fields are strings so they survive YAML without float drift.
type PlanLine struct {
	Asset          string `yaml:"asset"`
	Symbol         string `yaml:"symbol"`
	Percent        string `yaml:"percent"`
	TickSize       int32  `yaml:"tick_size"`
	MinQuantity    string `yaml:"min_quantity"`
	SlippageFactor string `yaml:"slippage_factor"`
	PriceIncrement int32  `yaml:"price_increment"`
}

// Plan configures the recurring purchase allocation.
type Plan struct {
	Currency string     `yaml:"currency"`
	Total    string     `yaml:"total"`
	Assets   []PlanLine `yaml:"assets"`
}

// Secrets selects where exchange credentials come from.
type Secrets struct {
	Source    string `yaml:"source"` // ssm | env
	Parameter string `yaml:"parameter"`
}

// Records selects and parameterizes the idempotency record store.
type Records struct {
	Backend     string `yaml:"backend"` // memory | redis | dynamodb
	RedisAddr   string `yaml:"redis_addr"`
	KeyPrefix   string `yaml:"key_prefix"`
	TTLHours    int    `yaml:"ttl_hours"`
	DynamoTable string `yaml:"dynamo_table"`
}

// Alerts configures operator notifications.
type Alerts struct {
	Backend  string `yaml:"backend"` // none | log | sns
	TopicARN string `yaml:"topic_arn"`
}

// Risk encodes guard-rails on how much one run may spend.
type Risk struct {
	MaxNotionalPerRun string `yaml:"max_notional_per_run"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Schedule Schedule `yaml:"schedule"`
	Exchange Exchange `yaml:"exchange"`
	Plan     Plan     `yaml:"plan"`
	Secrets  Secrets  `yaml:"secrets"`
	Records  Records  `yaml:"records"`
	Alerts   Alerts   `yaml:"alerts"`
	Risk     Risk     `yaml:"risk"`
	Workers  int      `yaml:"workers"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the parts of the config the orchestrator depends on.
func (c *Config) Validate() error {
	if c.Schedule.Cron != "" {
		if err := schedule.Validate(c.Schedule.Cron); err != nil {
			return err
		}
	}
	_, err := c.BuildPlan()
	return err
}

// BuildPlan converts the plan section into a validated plan.Plan.
func (c *Config) BuildPlan() (plan.Plan, error) {
	total, err := decimal.NewFromString(c.Plan.Total)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("plan total %q: %w", c.Plan.Total, err)
	}
	p := plan.Plan{
		Currency: c.Plan.Currency,
		Total:    total,
		Lines:    make([]plan.Line, 0, len(c.Plan.Assets)),
	}
	for _, line := range c.Plan.Assets {
		percent, err := decimal.NewFromString(line.Percent)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("%s percent %q: %w", line.Asset, line.Percent, err)
		}
		minQty, err := decimal.NewFromString(line.MinQuantity)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("%s min quantity %q: %w", line.Asset, line.MinQuantity, err)
		}
		slippage, err := decimal.NewFromString(line.SlippageFactor)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("%s slippage factor %q: %w", line.Asset, line.SlippageFactor, err)
		}
		p.Lines = append(p.Lines, plan.Line{
			Asset:          line.Asset,
			Symbol:         line.Symbol,
			Percent:        percent,
			TickSize:       line.TickSize,
			MinQuantity:    minQty,
			SlippageFactor: slippage,
			PriceIncrement: line.PriceIncrement,
		})
	}
	if err := p.Validate(); err != nil {
		return plan.Plan{}, err
	}
	return p, nil
}

// BuildRiskLimit parses the risk cap; empty means unlimited.
func (c *Config) BuildRiskLimit() (decimal.Decimal, error) {
	if c.Risk.MaxNotionalPerRun == "" {
		return decimal.Zero, nil
	}
	limit, err := decimal.NewFromString(c.Risk.MaxNotionalPerRun)
	if err != nil {
		return decimal.Zero, fmt.Errorf("risk cap %q: %w", c.Risk.MaxNotionalPerRun, err)
	}
	return limit, nil
}
