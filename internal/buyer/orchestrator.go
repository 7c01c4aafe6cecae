// Package buyer implements the purchase orchestrator: one run per
// schedule tick, one order per plan asset, at most one submission per
// (invocation, asset) ever.
package buyer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/alert"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/gemini"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/metrics"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/plan"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/records"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/risk"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/schedule"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/secrets"
)

var one = decimal.NewFromInt(1)

// AssetResult is the terminal outcome for one asset in one run.
type AssetResult struct {
	Status  records.Status `json:"status"`
	OrderID string         `json:"order_id,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Result aggregates one invocation. OverallFailed is true iff any asset
// ended Failed; skipped and already-processed assets do not count.
type Result struct {
	InvocationID  string                 `json:"invocation_id"`
	PerAsset      map[string]AssetResult `json:"per_asset"`
	OverallFailed bool                   `json:"overall_failed"`
}

// Orchestrator executes the purchase plan for one schedule tick.
type Orchestrator struct {
	plan   plan.Plan
	creds  secrets.Provider
	store  records.Store
	venues VenueFactory

	limits         risk.Limits
	alerts         alert.Notifier
	log            zerolog.Logger
	cron           string
	workers        int
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	defaultFeeBps  int
	now            func() time.Time
}

// Option configures Orchestrator construction.
type Option func(*Orchestrator)

// WithCron sets the cron expression invocation ids derive from. Without
// it, the raw trigger timestamp is treated as the tick.
func WithCron(expr string) Option {
	return func(o *Orchestrator) { o.cron = expr }
}

// WithWorkers bounds the per-asset worker pool. Values below 2 keep
// processing sequential.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithConfirmTimeout enables best-effort fill confirmation, polling order
// status for at most d after submission. Zero disables confirmation.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.confirmTimeout = d }
}

// WithDefaultFeeBps sets the maker fee assumed when the fee tier lookup
// fails.
func WithDefaultFeeBps(bps int) Option {
	return func(o *Orchestrator) {
		if bps > 0 {
			o.defaultFeeBps = bps
		}
	}
}

// WithRiskLimits caps the gross spend per run.
func WithRiskLimits(l risk.Limits) Option {
	return func(o *Orchestrator) { o.limits = l }
}

// WithAlerts routes operator notifications.
func WithAlerts(n alert.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.alerts = n
		}
	}
}

// WithLogger attaches the run logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New builds an orchestrator for a validated plan.
func New(p plan.Plan, creds secrets.Provider, store records.Store, venues VenueFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plan:          p,
		creds:         creds,
		store:         store,
		venues:        venues,
		alerts:        alert.Noop{},
		log:           zerolog.Nop(),
		workers:       1,
		confirmPoll:   2 * time.Second,
		defaultFeeBps: 20,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the plan for the tick covering trigger. A non-nil
// override replaces the configured plan for this run only and opts out
// of tick-based deduplication.
func (o *Orchestrator) Run(ctx context.Context, trigger time.Time, override *plan.Plan) (Result, error) {
	p := o.plan
	var id string
	if override != nil {
		if err := override.Validate(); err != nil {
			return Result{}, err
		}
		p = *override
		id = schedule.ManualInvocationID()
	} else if o.cron != "" {
		var err error
		id, err = schedule.InvocationID(o.cron, trigger)
		if err != nil {
			return Result{}, err
		}
	} else {
		id = schedule.IDForTick(trigger)
		o.log.Warn().Time("trigger", trigger).
			Msg("no cron configured, deriving invocation id from the raw trigger time; duplicate deliveries with differing timestamps will not share an id")
	}

	result := Result{InvocationID: id, PerAsset: make(map[string]AssetResult, len(p.Lines))}
	log := o.log.With().Str("invocation", id).Logger()
	log.Info().Str("currency", p.Currency).Str("total", p.Total.String()).Msg("starting purchase run")

	creds, err := o.creds.Fetch(ctx)
	if err != nil {
		o.notify(ctx, "Crypto Buy Failed - Credentials", err.Error())
		metrics.InvocationsTotal.WithLabelValues("aborted").Inc()
		return result, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	venue := o.venues(creds)

	if !o.limits.Allow(p.Total) {
		msg := fmt.Sprintf("plan total %s %s exceeds per-run cap %s", p.Total, p.Currency, o.limits.MaxNotionalPerRun)
		o.notify(ctx, "Crypto Buy Failed - Spend Limit", msg)
		metrics.InvocationsTotal.WithLabelValues("aborted").Inc()
		return result, fmt.Errorf("%w: %s", ErrSpendLimitExceeded, msg)
	}

	feeRate := o.feeRate(ctx, venue, log)

	available, err := venue.AvailableBalance(ctx, p.Currency)
	if err != nil {
		taxonomy := classify(err)
		o.notify(ctx, "Crypto Buy Failed - Balance Check", err.Error())
		metrics.InvocationsTotal.WithLabelValues("aborted").Inc()
		return result, fmt.Errorf("%w: balance check: %v", taxonomy, err)
	}
	if available.LessThan(p.Total) {
		msg := fmt.Sprintf("insufficient %s: %s available, %s required", p.Currency, available, p.Total)
		o.notify(ctx, "Crypto Buy Failed - Insufficient Funds", msg)
		metrics.InvocationsTotal.WithLabelValues("aborted").Inc()
		return result, fmt.Errorf("%w: %s", ErrInsufficientFunds, msg)
	}
	log.Info().Str("available", available.String()).Str("fee_rate", feeRate.String()).Msg("pre-flight checks passed")

	caps := p.Allocations()
	var fatal error
	if o.workers > 1 && len(p.Lines) > 1 {
		fatal = o.runParallel(ctx, venue, id, p, caps, feeRate, &result)
	} else {
		for _, line := range p.Lines {
			res, err := o.processAsset(ctx, venue, id, line, caps[line.Asset], feeRate)
			if res.Status != "" {
				result.PerAsset[line.Asset] = res
			}
			if err != nil {
				fatal = err
				break
			}
		}
	}
	if fatal != nil {
		metrics.InvocationsTotal.WithLabelValues("aborted").Inc()
		return result, fatal
	}

	for _, res := range result.PerAsset {
		if res.Status == records.StatusFailed {
			result.OverallFailed = true
		}
	}
	if result.OverallFailed {
		metrics.InvocationsTotal.WithLabelValues("failed").Inc()
		o.notify(ctx, "Crypto Buy Completed With Errors", o.summarize(result))
	} else {
		metrics.InvocationsTotal.WithLabelValues("ok").Inc()
	}
	log.Info().Bool("overall_failed", result.OverallFailed).Int("assets", len(result.PerAsset)).Msg("purchase run finished")
	return result, nil
}

// runParallel fans assets out over a bounded worker pool. A fatal record
// store error cancels outstanding work.
func (o *Orchestrator) runParallel(ctx context.Context, venue Venue, id string, p plan.Plan, caps map[string]decimal.Decimal, feeRate decimal.Decimal, result *Result) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan plan.Line)
	var (
		mu    sync.Mutex
		fatal error
		wg    sync.WaitGroup
	)
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for line := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				res, err := o.processAsset(runCtx, venue, id, line, caps[line.Asset], feeRate)
				mu.Lock()
				if res.Status != "" {
					result.PerAsset[line.Asset] = res
				}
				if err != nil && fatal == nil {
					fatal = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	for _, line := range p.Lines {
		jobs <- line
	}
	close(jobs)
	wg.Wait()
	return fatal
}

// feeRate resolves the dynamic maker fee tier, falling back to the
// configured default when the lookup fails.
func (o *Orchestrator) feeRate(ctx context.Context, venue Venue, log zerolog.Logger) decimal.Decimal {
	bps, err := venue.MakerFeeBps(ctx)
	if err != nil || bps <= 0 {
		msg := fmt.Sprintf("failed to fetch fee tier, using default %d bps", o.defaultFeeBps)
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		log.Warn().Msg(msg)
		o.notify(ctx, "Fee Rate Fetch Warning", msg)
		bps = o.defaultFeeBps
	}
	return decimal.New(int64(bps), -4)
}

// processAsset runs the full lifecycle for one asset: idempotency check,
// pending record, sizing, submission, outcome record, optional confirm.
// The returned error is fatal for the whole invocation (record store
// unavailable); exchange failures come back inside the AssetResult.
func (o *Orchestrator) processAsset(ctx context.Context, venue Venue, id string, line plan.Line, gross decimal.Decimal, feeRate decimal.Decimal) (AssetResult, error) {
	log := o.log.With().Str("invocation", id).Str("asset", line.Asset).Logger()
	clientOrderID := id + ":" + line.Asset

	existing, err := o.store.Get(ctx, id, line.Asset)
	if err != nil {
		return AssetResult{}, fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
	}

	resumeFromFailed := false
	if existing != nil {
		switch existing.Status {
		case records.StatusSubmitted, records.StatusConfirmed, records.StatusSkipped:
			log.Info().Str("status", string(existing.Status)).Msg("already processed, skipping")
			return AssetResult{Status: existing.Status, OrderID: existing.OrderID, Reason: existing.Reason}, nil
		case records.StatusPending:
			// Another delivery holds the pending claim; do not double-submit.
			log.Info().Msg("pending claim held elsewhere, skipping")
			return AssetResult{Status: records.StatusPending}, nil
		case records.StatusFailed:
			if existing.Reason == ReasonUnreachable {
				repaired, res, err := o.reconcile(ctx, venue, existing, clientOrderID, log)
				if err != nil || repaired {
					return res, err
				}
			}
			resumeFromFailed = true
		}
	}

	rec := records.Record{
		InvocationID:  id,
		Asset:         line.Asset,
		Status:        records.StatusPending,
		ClientOrderID: clientOrderID,
		QuoteAmount:   gross.String(),
		AttemptedAt:   o.now().UTC(),
	}
	if resumeFromFailed {
		rec.UpdatedAt = o.now().UTC()
		if err := o.store.Update(ctx, rec, records.StatusFailed); err != nil {
			if errors.Is(err, records.ErrStale) {
				// Another delivery already took the retry over.
				log.Info().Msg("lost retry claim, skipping")
				return AssetResult{Status: records.StatusPending}, nil
			}
			return AssetResult{}, fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
		}
	} else if err := o.store.Create(ctx, rec); err != nil {
		if errors.Is(err, records.ErrExists) {
			// Concurrent duplicate invocation won the create race.
			dup, err := o.store.Get(ctx, id, line.Asset)
			if err != nil {
				return AssetResult{}, fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
			}
			res := AssetResult{Status: records.StatusPending}
			if dup != nil {
				res.Status = dup.Status
				res.OrderID = dup.OrderID
				res.Reason = dup.Reason
			}
			log.Info().Str("status", string(res.Status)).Msg("lost create race, skipping")
			return res, nil
		}
		return AssetResult{}, fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
	}

	req, skipReason, err := o.sizeOrder(ctx, venue, line, gross, feeRate)
	if err != nil {
		return o.markFailed(ctx, rec, err, log)
	}
	if skipReason != "" {
		return o.markSkipped(ctx, rec, skipReason, log)
	}
	req.ClientOrderID = clientOrderID

	placed, err := venue.PlaceOrder(ctx, req)
	if err != nil {
		return o.markFailed(ctx, rec, err, log)
	}

	rec.Status = records.StatusSubmitted
	rec.OrderID = placed.OrderID
	rec.UpdatedAt = o.now().UTC()
	if err := o.store.Update(ctx, rec, records.StatusPending); err != nil {
		// The order is on the book; the result stands regardless, but a
		// dead record store still has to abort the rest of the run.
		log.Error().Err(err).Str("order_id", placed.OrderID).Msg("order placed but record update failed")
		if !errors.Is(err, records.ErrStale) {
			return AssetResult{Status: records.StatusSubmitted, OrderID: placed.OrderID},
				fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
		}
	}
	metrics.OrdersSubmitted.WithLabelValues(line.Asset).Inc()
	log.Info().
		Str("order_id", placed.OrderID).
		Str("amount", req.Amount.String()).
		Str("price", req.Price.String()).
		Msg("order submitted")

	status := records.StatusSubmitted
	if o.confirmTimeout > 0 && o.confirmOrder(ctx, venue, rec, log) {
		status = records.StatusConfirmed
	}
	return AssetResult{Status: status, OrderID: placed.OrderID}, nil
}

// sizeOrder turns a gross quote-currency cap into a limit order: price
// the ask down by the slippage factor, size under the cap including the
// fee, then bump one tick at a time while the all-in cost stays under it.
func (o *Orchestrator) sizeOrder(ctx context.Context, venue Venue, line plan.Line, gross decimal.Decimal, feeRate decimal.Decimal) (gemini.OrderRequest, string, error) {
	if !gross.IsPositive() {
		return gemini.OrderRequest{}, "non-positive allocation", nil
	}
	ask, err := venue.AskPrice(ctx, line.Symbol)
	if err != nil {
		return gemini.OrderRequest{}, "", err
	}
	if !ask.IsPositive() {
		return gemini.OrderRequest{}, "", fmt.Errorf("non-positive ask %s for %s", ask, line.Symbol)
	}

	price := ask.Mul(line.SlippageFactor).Truncate(line.PriceIncrement)
	if !price.IsPositive() {
		// The quote precision cannot represent this asset's price level.
		return gemini.OrderRequest{}, ReasonPriceTruncated, nil
	}
	qty := gross.Div(price.Mul(one.Add(feeRate))).Truncate(line.TickSize)
	if qty.LessThan(line.MinQuantity) {
		return gemini.OrderRequest{}, ReasonBelowMin, nil
	}

	step := decimal.New(1, -line.TickSize)
	for {
		cand := qty.Add(step)
		if allInCost(price, cand, feeRate, line.PriceIncrement).GreaterThan(gross) {
			break
		}
		qty = cand
	}

	return gemini.OrderRequest{
		Symbol:  line.Symbol,
		Amount:  qty,
		Price:   price,
		Side:    "buy",
		Type:    "exchange limit",
		Options: []string{"maker-or-cancel"},
	}, "", nil
}

func allInCost(price, qty, feeRate decimal.Decimal, scale int32) decimal.Decimal {
	cost := price.Mul(qty).Truncate(scale)
	fee := cost.Mul(feeRate).Truncate(scale)
	return cost.Add(fee)
}

// reconcile checks the book for an order whose outcome the previous
// attempt could not observe. Repaired is true when the asset is settled
// without a new submission: either the order was found (and the record
// fixed up to Submitted) or the check itself failed, in which case
// resubmitting would risk a double buy.
func (o *Orchestrator) reconcile(ctx context.Context, venue Venue, existing *records.Record, clientOrderID string, log zerolog.Logger) (bool, AssetResult, error) {
	orders, err := venue.ActiveOrders(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot verify earlier order, refusing to resubmit")
		return true, AssetResult{Status: records.StatusFailed, Reason: ReasonUnreachable, Error: existing.Error}, nil
	}
	for _, order := range orders {
		if order.ClientOrderID != clientOrderID {
			continue
		}
		rec := *existing
		rec.Status = records.StatusSubmitted
		rec.OrderID = order.OrderID
		rec.Error = ""
		rec.Reason = ""
		rec.UpdatedAt = o.now().UTC()
		if err := o.store.Update(ctx, rec, records.StatusFailed); err != nil {
			if errors.Is(err, records.ErrStale) {
				return true, AssetResult{Status: records.StatusSubmitted, OrderID: order.OrderID}, nil
			}
			return true, AssetResult{}, fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
		}
		log.Info().Str("order_id", order.OrderID).Msg("recovered earlier order from the book")
		return true, AssetResult{Status: records.StatusSubmitted, OrderID: order.OrderID}, nil
	}
	// No trace on the book: a maker-or-cancel order that never made it is
	// gone for good, so resubmission is safe.
	return false, AssetResult{}, nil
}

// markFailed records a terminal failure for the asset. Only record store
// errors escalate to fatal.
func (o *Orchestrator) markFailed(ctx context.Context, rec records.Record, cause error, log zerolog.Logger) (AssetResult, error) {
	taxonomy := classify(cause)
	reason := reasonFor(taxonomy)

	rec.Status = records.StatusFailed
	rec.Error = cause.Error()
	rec.Reason = reason
	rec.UpdatedAt = o.now().UTC()
	if err := o.store.Update(ctx, rec, records.StatusPending); err != nil && !errors.Is(err, records.ErrStale) {
		return AssetResult{Status: records.StatusFailed, Reason: reason, Error: rec.Error},
			fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
	}
	metrics.OrdersFailed.WithLabelValues(rec.Asset, reason).Inc()
	log.Warn().Err(cause).Str("reason", reason).Msg("order attempt failed")
	return AssetResult{Status: records.StatusFailed, Reason: reason, Error: rec.Error}, nil
}

// markSkipped records that no order was warranted for the asset.
func (o *Orchestrator) markSkipped(ctx context.Context, rec records.Record, reason string, log zerolog.Logger) (AssetResult, error) {
	rec.Status = records.StatusSkipped
	rec.Reason = reason
	rec.UpdatedAt = o.now().UTC()
	if err := o.store.Update(ctx, rec, records.StatusPending); err != nil && !errors.Is(err, records.ErrStale) {
		return AssetResult{Status: records.StatusSkipped, Reason: reason},
			fmt.Errorf("%w: %v", ErrRecordStoreUnavailable, err)
	}
	metrics.OrdersSkipped.WithLabelValues(rec.Asset).Inc()
	log.Info().Str("reason", reason).Msg("asset skipped")
	return AssetResult{Status: records.StatusSkipped, Reason: reason}, nil
}

// confirmOrder polls order status until the fill is observed or the
// confirmation window closes. Failure to confirm is never an error; the
// order is already on the book.
func (o *Orchestrator) confirmOrder(ctx context.Context, venue Venue, rec records.Record, log zerolog.Logger) bool {
	confirmCtx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(o.confirmPoll)
	defer ticker.Stop()

	for {
		order, err := venue.OrderStatus(confirmCtx, rec.OrderID)
		if err != nil {
			log.Debug().Err(err).Msg("confirm poll failed")
		} else if order.Filled() {
			rec.Status = records.StatusConfirmed
			rec.UpdatedAt = o.now().UTC()
			if err := o.store.Update(confirmCtx, rec, records.StatusSubmitted); err != nil {
				log.Warn().Err(err).Msg("fill observed but record update failed")
				return false
			}
			log.Info().Str("order_id", rec.OrderID).Msg("order confirmed filled")
			return true
		} else if order.IsCancelled {
			// maker-or-cancel got cancelled without a fill; the record
			// stays Submitted for manual reconciliation.
			log.Warn().Str("order_id", rec.OrderID).Msg("order cancelled without fill")
			return false
		}

		select {
		case <-confirmCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, subject, message string) {
	if err := o.alerts.Send(ctx, subject, message); err != nil {
		o.log.Error().Err(err).Str("subject", subject).Msg("failed to send alert")
	}
}

func (o *Orchestrator) summarize(result Result) string {
	msg := fmt.Sprintf("invocation %s:", result.InvocationID)
	for asset, res := range result.PerAsset {
		msg += fmt.Sprintf(" %s=%s", asset, res.Status)
		if res.Reason != "" {
			msg += fmt.Sprintf("(%s)", res.Reason)
		}
	}
	return msg
}
