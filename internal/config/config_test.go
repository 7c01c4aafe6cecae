package config

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "autobuy-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.App.MetricsAddr != ":9900" {
		t.Fatalf("unexpected App.MetricsAddr: %s", cfg.App.MetricsAddr)
	}
	if cfg.Schedule.Cron != "0 12 * * 1" {
		t.Fatalf("unexpected cron: %s", cfg.Schedule.Cron)
	}
	if cfg.Exchange.BaseURL != "https://api.sandbox.gemini.com" {
		t.Fatalf("unexpected exchange base url: %s", cfg.Exchange.BaseURL)
	}
	if cfg.Exchange.ConfirmMode != "poll" || cfg.Exchange.ConfirmTimeoutSecs != 30 {
		t.Fatalf("unexpected confirm settings: %+v", cfg.Exchange)
	}
	if len(cfg.Plan.Assets) != 2 || cfg.Plan.Assets[0].Asset != "BTC" {
		t.Fatalf("unexpected plan assets: %+v", cfg.Plan.Assets)
	}
	if cfg.Plan.Assets[1].TickSize != 6 {
		t.Fatalf("unexpected ETH tick size: %d", cfg.Plan.Assets[1].TickSize)
	}
	if cfg.Secrets.Source != "ssm" || cfg.Secrets.Parameter != "/exchange/api-keys" {
		t.Fatalf("unexpected secrets config: %+v", cfg.Secrets)
	}
	if cfg.Records.Backend != "dynamodb" || cfg.Records.DynamoTable != "autobuy-invocations" {
		t.Fatalf("unexpected records config: %+v", cfg.Records)
	}
	if cfg.Alerts.Backend != "sns" {
		t.Fatalf("unexpected alerts backend: %s", cfg.Alerts.Backend)
	}
	if cfg.Workers != 2 {
		t.Fatalf("unexpected workers: %d", cfg.Workers)
	}
}

func TestBuildPlan(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	p, err := cfg.BuildPlan()
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if p.Currency != "GUSD" {
		t.Fatalf("unexpected currency: %s", p.Currency)
	}
	if !p.Total.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("unexpected total: %s", p.Total)
	}
	caps := p.Allocations()
	if got := caps["BTC"].String(); got != "56.1" {
		t.Fatalf("unexpected BTC cap: %s", got)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	cfg.Schedule.Cron = "garbage"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid cron")
	}
}

func TestBuildRiskLimit(t *testing.T) {
	cfg := &Config{}
	limit, err := cfg.BuildRiskLimit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !limit.IsZero() {
		t.Fatalf("expected zero limit for empty config, got %s", limit)
	}

	cfg.Risk.MaxNotionalPerRun = "100"
	limit, err = cfg.BuildRiskLimit()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !limit.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected limit: %s", limit)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if reloaded.Plan.Total != cfg.Plan.Total {
		t.Fatalf("total changed across round trip: %s vs %s", reloaded.Plan.Total, cfg.Plan.Total)
	}
	if len(reloaded.Plan.Assets) != len(cfg.Plan.Assets) {
		t.Fatalf("assets changed across round trip")
	}
}
