package buyer

import (
	"context"
	"errors"
	"net"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/gemini"
)

// Failure taxonomy. Credential and record store failures abort the whole
// invocation before (further) orders are attempted; exchange failures are
// isolated per asset and recorded.
var (
	ErrCredentialUnavailable  = errors.New("credentials unavailable")
	ErrRecordStoreUnavailable = errors.New("record store unavailable")
	ErrExchangeRejected       = errors.New("exchange rejected order")
	ErrExchangeUnreachable    = errors.New("exchange unreachable")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrSpendLimitExceeded     = errors.New("spend limit exceeded")
)

// Reason labels persisted on records and exported as metric labels.
const (
	ReasonRejected       = "rejected"
	ReasonUnreachable    = "unreachable"
	ReasonBelowMin       = "below_min_quantity"
	ReasonPriceTruncated = "price_below_increment"
)

// classify maps a venue error to the per-asset taxonomy. A structured
// exchange rejection (4xx) is final for this invocation; everything else,
// including 5xx and timeouts, means the order may or may not have landed
// and must be reconciled before any resubmission.
func classify(err error) error {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 {
			return ErrExchangeUnreachable
		}
		return ErrExchangeRejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrExchangeUnreachable
	}
	return ErrExchangeUnreachable
}

func reasonFor(taxonomy error) string {
	if errors.Is(taxonomy, ErrExchangeRejected) {
		return ReasonRejected
	}
	return ReasonUnreachable
}
