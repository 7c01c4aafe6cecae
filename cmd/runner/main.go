package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/alert"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/audit"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/buyer"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/config"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/gemini"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/metrics"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/plan"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/records"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/risk"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/secrets"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	triggerAt := flag.String("trigger", "", "RFC3339 trigger time (defaults to now)")
	manual := flag.Bool("manual", false, "run outside the schedule with a fresh invocation id")
	auditPath := flag.String("audit", "", "append per-asset outcome records to this JSONL file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := util.NewLogger("info")
		fallback.Fatal().Err(err).Msg("load config")
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

	trigger := time.Now().UTC()
	if *triggerAt != "" {
		trigger, err = time.Parse(time.RFC3339, *triggerAt)
		if err != nil {
			log.Fatal().Err(err).Msg("bad trigger time")
		}
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := buildStore(cfg, log)

	var venue *gemini.Client
	venueOpts := []gemini.Option{gemini.WithLogger(log)}
	if cfg.Exchange.BaseURL != "" {
		venueOpts = append(venueOpts, gemini.WithBaseURL(cfg.Exchange.BaseURL))
	}
	venues := func(c secrets.Credentials) buyer.Venue {
		venue = gemini.NewClient(c.APIKey, c.APISecret, venueOpts...)
		return venue
	}

	opts := []buyer.Option{
		buyer.WithLogger(log),
		buyer.WithAlerts(alert.Log{Logger: log}),
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

	var override *plan.Plan
	if *manual {
		override = &p
	}

	orch := buyer.New(p, secrets.NewEnv(), store, venues, opts...)
	result, err := orch.Run(ctx, trigger, override)
	if err != nil {
		log.Fatal().Err(err).Msg("run aborted")
	}

	if cfg.Exchange.ConfirmMode == "events" && venue != nil && cfg.Exchange.ConfirmTimeoutSecs > 0 {
		confirmFromEvents(ctx, venue, store, result,
			time.Duration(cfg.Exchange.ConfirmTimeoutSecs)*time.Second, log)
	}

	if *auditPath != "" {
		writeAudit(ctx, *auditPath, store, result, log)
	}

	for asset, res := range result.PerAsset {
		log.Info().
			Str("asset", asset).
			Str("status", string(res.Status)).
			Str("order_id", res.OrderID).
			Str("reason", res.Reason).
			Msg("asset outcome")
	}
	if result.OverallFailed {
		log.Error().Str("invocation", result.InvocationID).Msg("run completed with failures")
		os.Exit(1)
	}
	log.Info().Str("invocation", result.InvocationID).Msg("run complete")
}

func buildStore(cfg *config.Config, log zerolog.Logger) records.Store {
	switch cfg.Records.Backend {
	case "", records.BackendMemory:
		return records.NewMemory()
	case records.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Records.RedisAddr})
		ttl := time.Duration(cfg.Records.TTLHours) * time.Hour
		return records.NewRedis(client, cfg.Records.KeyPrefix, ttl)
	default:
		log.Fatal().Str("backend", cfg.Records.Backend).Msg("unsupported record backend for local runs")
		return nil
	}
}

// confirmFromEvents watches the order events stream and promotes submitted
// records to confirmed as their fills come through, until every submitted
// asset is settled or the window closes.
func confirmFromEvents(ctx context.Context, venue *gemini.Client, store records.Store, result buyer.Result, window time.Duration, log zerolog.Logger) {
	pending := make(map[string]records.Record)
	for asset, res := range result.PerAsset {
		if res.Status != records.StatusSubmitted {
			continue
		}
		rec, err := store.Get(ctx, result.InvocationID, asset)
		if err != nil || rec == nil {
			log.Warn().Err(err).Str("asset", asset).Msg("cannot load record for confirmation")
			continue
		}
		pending[rec.ClientOrderID] = *rec
	}
	if len(pending) == 0 {
		return
	}

	streamCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	eventsCh := make(chan gemini.OrderEvent, 64)
	go func() {
		if err := venue.StreamOrderEvents(streamCtx, eventsCh); err != nil && streamCtx.Err() == nil {
			log.Warn().Err(err).Msg("order events stream ended")
			cancel()
		}
	}()

	for {
		select {
		case <-streamCtx.Done():
			log.Info().Int("unconfirmed", len(pending)).Msg("confirmation window closed")
			return
		case ev := <-eventsCh:
			rec, ok := pending[ev.ClientOrderID]
			if !ok || !ev.Fill() {
				continue
			}
			rec.Status = records.StatusConfirmed
			rec.UpdatedAt = time.Now().UTC()
			if err := store.Update(ctx, rec, records.StatusSubmitted); err != nil {
				log.Warn().Err(err).Str("asset", rec.Asset).Msg("fill observed but record update failed")
			} else {
				log.Info().Str("asset", rec.Asset).Str("order_id", rec.OrderID).Msg("order confirmed filled")
			}
			delete(pending, ev.ClientOrderID)
			if len(pending) == 0 {
				return
			}
		}
	}
}

// writeAudit appends the final per-asset records to a JSONL file.
func writeAudit(ctx context.Context, path string, store records.Store, result buyer.Result, log zerolog.Logger) {
	recorder, err := audit.NewJSONLRecorder(path)
	if err != nil {
		log.Warn().Err(err).Msg("cannot open audit file")
		return
	}
	defer recorder.Close()

	for asset := range result.PerAsset {
		rec, err := store.Get(ctx, result.InvocationID, asset)
		if err != nil || rec == nil {
			log.Warn().Err(err).Str("asset", asset).Msg("cannot load record for audit")
			continue
		}
		recorder.Record(*rec)
	}
}
