package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/alert"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/buyer"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/config"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/gemini"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/plan"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/records"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/risk"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/secrets"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/util"
)

// triggerDetail is the optional EventBridge event detail for manual runs.
// A present plan replaces the configured one for that invocation only.
type triggerDetail struct {
	Plan *config.Plan `json:"plan,omitempty"`
}

type handler struct {
	orch *buyer.Orchestrator
	log  zerolog.Logger
}

func (h *handler) handle(ctx context.Context, event events.CloudWatchEvent) error {
	trigger := event.Time
	if trigger.IsZero() {
		trigger = time.Now().UTC()
	}

	var override *plan.Plan
	if len(event.Detail) > 0 {
		var detail triggerDetail
		if err := json.Unmarshal(event.Detail, &detail); err != nil {
			return fmt.Errorf("decode event detail: %w", err)
		}
		if detail.Plan != nil {
			tmp := config.Config{Plan: *detail.Plan}
			p, err := tmp.BuildPlan()
			if err != nil {
				return fmt.Errorf("manual plan: %w", err)
			}
			override = &p
		}
	}

	result, err := h.orch.Run(ctx, trigger, override)
	if err != nil {
		return err
	}
	if result.OverallFailed {
		// Surface a failed invocation in Lambda metrics. The retry is safe:
		// submitted assets are skipped by their records.
		return fmt.Errorf("invocation %s completed with failed assets", result.InvocationID)
	}
	h.log.Info().Str("invocation", result.InvocationID).Msg("invocation complete")
	return nil
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	p, err := cfg.BuildPlan()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid plan")
	}
	spendCap, err := cfg.BuildRiskLimit()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid risk cap")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("aws config")
	}

	parameter := cfg.Secrets.Parameter
	if parameter == "" {
		parameter = secrets.DefaultParameterName
	}
	creds := secrets.NewSSM(ssm.NewFromConfig(awsCfg), parameter)
	store := records.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Records.DynamoTable)
	notifier := alert.NewSNS(sns.NewFromConfig(awsCfg), cfg.Alerts.TopicARN)

	venueOpts := []gemini.Option{gemini.WithLogger(log)}
	if cfg.Exchange.BaseURL != "" {
		venueOpts = append(venueOpts, gemini.WithBaseURL(cfg.Exchange.BaseURL))
	}
	venues := func(c secrets.Credentials) buyer.Venue {
		return gemini.NewClient(c.APIKey, c.APISecret, venueOpts...)
	}

	opts := []buyer.Option{
		buyer.WithLogger(log),
		buyer.WithAlerts(notifier),
		buyer.WithRiskLimits(risk.Limits{MaxNotionalPerRun: spendCap}),
		buyer.WithWorkers(cfg.Workers),
		buyer.WithDefaultFeeBps(cfg.Exchange.DefaultFeeBps),
	}
	if cfg.Schedule.Cron != "" {
		opts = append(opts, buyer.WithCron(cfg.Schedule.Cron))
	}
	if cfg.Exchange.ConfirmMode == "poll" && cfg.Exchange.ConfirmTimeoutSecs > 0 {
		opts = append(opts, buyer.WithConfirmTimeout(time.Duration(cfg.Exchange.ConfirmTimeoutSecs)*time.Second))
	}

	h := &handler{
		orch: buyer.New(p, creds, store, venues, opts...),
		log:  log,
	}
	lambda.Start(h.handle)
}
