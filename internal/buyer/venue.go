package buyer

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/gemini"
	"github.com/kevandoyle2/crypto-autobuy-lambda/internal/secrets"
)

// Venue is the slice of the exchange the orchestrator needs. The gemini
// client satisfies it; tests swap in fakes.
type Venue interface {
	MakerFeeBps(ctx context.Context) (int, error)
	AvailableBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	AskPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req gemini.OrderRequest) (gemini.Order, error)
	OrderStatus(ctx context.Context, orderID string) (gemini.Order, error)
	ActiveOrders(ctx context.Context) ([]gemini.Order, error)
}

// VenueFactory builds an authenticated venue from freshly fetched
// credentials. It is only called after credentials resolve, so a
// credential failure never produces an exchange call.
type VenueFactory func(creds secrets.Credentials) Venue
