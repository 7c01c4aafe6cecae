package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Balance is one row of the account balance response.
type Balance struct {
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Available string `json:"available"`
}

// Ticker is the v2 ticker payload; only the ask matters for pricing.
type Ticker struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Close  string `json:"close"`
}

type notionalVolume struct {
	APIMakerFeeBps int `json:"api_maker_fee_bps"`
	APITakerFeeBps int `json:"api_taker_fee_bps"`
}

// OrderRequest describes a buy order sized in base units at a limit price.
type OrderRequest struct {
	Symbol        string
	Amount        decimal.Decimal
	Price         decimal.Decimal
	Side          string
	Type          string
	Options       []string
	ClientOrderID string
}

// Order is the exchange view of a placed order.
type Order struct {
	OrderID         string   `json:"order_id"`
	ClientOrderID   string   `json:"client_order_id"`
	Symbol          string   `json:"symbol"`
	Side            string   `json:"side"`
	Price           string   `json:"price"`
	OriginalAmount  string   `json:"original_amount"`
	ExecutedAmount  string   `json:"executed_amount"`
	RemainingAmount string   `json:"remaining_amount"`
	IsLive          bool     `json:"is_live"`
	IsCancelled     bool     `json:"is_cancelled"`
	Options         []string `json:"options"`
}

// Filled reports whether the order has fully executed.
func (o Order) Filled() bool {
	if o.IsCancelled {
		return false
	}
	remaining, err := decimal.NewFromString(o.RemainingAmount)
	if err != nil {
		return false
	}
	return remaining.IsZero() && o.ExecutedAmount != ""
}

// Balances returns all account balances.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var out []Balance
	if err := c.privatePost(ctx, "/v1/balances", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableBalance returns the available amount of one currency, or zero
// when the account holds none of it.
func (c *Client) AvailableBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if strings.EqualFold(b.Currency, currency) {
			avail, err := decimal.NewFromString(b.Available)
			if err != nil {
				return decimal.Zero, fmt.Errorf("gemini: parse %s balance: %w", currency, err)
			}
			return avail, nil
		}
	}
	return decimal.Zero, nil
}

// MakerFeeBps returns the account's API maker fee tier in basis points.
func (c *Client) MakerFeeBps(ctx context.Context) (int, error) {
	var out notionalVolume
	if err := c.privatePost(ctx, "/v1/notionalvolume", nil, &out); err != nil {
		return 0, err
	}
	return out.APIMakerFeeBps, nil
}

// AskPrice returns the current best ask for a symbol.
func (c *Client) AskPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out Ticker
	if err := c.publicGet(ctx, "/v2/ticker/"+symbol, &out); err != nil {
		return decimal.Zero, err
	}
	ask, err := decimal.NewFromString(out.Ask)
	if err != nil {
		return decimal.Zero, fmt.Errorf("gemini: parse ask for %s: %w", symbol, err)
	}
	return ask, nil
}

// PlaceOrder submits a new order. The client order id is passed through
// so the exchange deduplicates retried submissions.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	params := map[string]any{
		"symbol": req.Symbol,
		"amount": req.Amount.String(),
		"price":  req.Price.String(),
		"side":   req.Side,
		"type":   req.Type,
	}
	if len(req.Options) > 0 {
		params["options"] = req.Options
	}
	if req.ClientOrderID != "" {
		params["client_order_id"] = req.ClientOrderID
	}
	var out Order
	if err := c.privatePost(ctx, "/v1/order/new", params, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// OrderStatus looks up one order by exchange order id.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (Order, error) {
	var out Order
	if err := c.privatePost(ctx, "/v1/order/status", map[string]any{"order_id": orderID}, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// ActiveOrders lists the account's live orders. The orchestrator scans it
// by client order id before resubmitting after an ambiguous timeout.
func (c *Client) ActiveOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.privatePost(ctx, "/v1/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
