package gemini

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func decodePayload(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	encoded := r.Header.Get("X-GEMINI-PAYLOAD")
	if encoded == "" {
		t.Fatalf("missing X-GEMINI-PAYLOAD header")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	return payload
}

func TestPrivateRequestSigning(t *testing.T) {
	const secret = "test-secret"
	var gotKey, gotPayload, gotSignature string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-GEMINI-APIKEY")
		gotPayload = r.Header.Get("X-GEMINI-PAYLOAD")
		gotSignature = r.Header.Get("X-GEMINI-SIGNATURE")

		payload := decodePayload(t, r)
		if payload["request"] != "/v1/balances" {
			t.Errorf("unexpected request field: %v", payload["request"])
		}
		if payload["nonce"] == "" {
			t.Errorf("missing nonce")
		}
		w.Write([]byte(`[{"currency":"GUSD","amount":"100.00","available":"85.00"}]`))
	}))
	defer srv.Close()

	client := NewClient("test-key", secret, WithBaseURL(srv.URL))
	avail, err := client.AvailableBalance(context.Background(), "GUSD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avail.Equal(decimal.RequireFromString("85.00")) {
		t.Fatalf("unexpected available balance: %s", avail)
	}

	if gotKey != "test-key" {
		t.Fatalf("unexpected api key header: %s", gotKey)
	}
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(gotPayload))
	if want := hex.EncodeToString(mac.Sum(nil)); gotSignature != want {
		t.Fatalf("signature mismatch: got %s want %s", gotSignature, want)
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	var nonces []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := decodePayload(t, r)
		nonces = append(nonces, payload["nonce"].(string))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", WithBaseURL(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := client.Balances(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(nonces) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(nonces))
	}
	for i := 1; i < len(nonces); i++ {
		if nonces[i] <= nonces[i-1] {
			t.Fatalf("nonces not increasing: %v", nonces)
		}
	}
}

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := decodePayload(t, r)
		if payload["symbol"] != "btcgusd" || payload["side"] != "buy" {
			t.Errorf("unexpected order payload: %v", payload)
		}
		if payload["client_order_id"] != "buy-20260302T120000Z:BTC" {
			t.Errorf("missing client order id: %v", payload)
		}
		if payload["type"] != "exchange limit" {
			t.Errorf("unexpected order type: %v", payload)
		}
		w.Write([]byte(`{"order_id":"106817811","client_order_id":"buy-20260302T120000Z:BTC","symbol":"btcgusd","is_live":true,"remaining_amount":"0.0005","executed_amount":"0"}`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", WithBaseURL(srv.URL))
	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "btcgusd",
		Amount:        decimal.RequireFromString("0.0005"),
		Price:         decimal.RequireFromString("64000.00"),
		Side:          "buy",
		Type:          "exchange limit",
		Options:       []string{"maker-or-cancel"},
		ClientOrderID: "buy-20260302T120000Z:BTC",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.OrderID != "106817811" {
		t.Fatalf("unexpected order id: %s", order.OrderID)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"result":"error","reason":"InsufficientFunds","message":"not enough GUSD"}`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", WithBaseURL(srv.URL))
	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "btcgusd",
		Amount: decimal.NewFromInt(1),
		Price:  decimal.NewFromInt(1),
		Side:   "buy",
		Type:   "exchange limit",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Reason != "InsufficientFunds" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestAskPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/ticker/btcgusd" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("expected GET for public endpoint, got %s", r.Method)
		}
		w.Write([]byte(`{"symbol":"BTCGUSD","bid":"63990.00","ask":"64010.50","close":"64000.00"}`))
	}))
	defer srv.Close()

	client := NewClient("k", "s", WithBaseURL(srv.URL))
	ask, err := client.AskPrice(context.Background(), "btcgusd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ask.Equal(decimal.RequireFromString("64010.50")) {
		t.Fatalf("unexpected ask: %s", ask)
	}
}

func TestOrderFilled(t *testing.T) {
	cases := []struct {
		name  string
		order Order
		want  bool
	}{
		{"fully executed", Order{RemainingAmount: "0", ExecutedAmount: "0.0005"}, true},
		{"partial", Order{RemainingAmount: "0.0002", ExecutedAmount: "0.0003"}, false},
		{"cancelled", Order{RemainingAmount: "0", ExecutedAmount: "0.0005", IsCancelled: true}, false},
		{"unparseable", Order{RemainingAmount: "", ExecutedAmount: "x"}, false},
	}
	for _, tc := range cases {
		if got := tc.order.Filled(); got != tc.want {
			t.Fatalf("%s: Filled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDecodeOrderEvents(t *testing.T) {
	batch := decodeOrderEvents([]byte(`[{"type":"fill","order_id":"1","remaining_amount":"0"},{"type":"booked","order_id":"2","is_live":true,"remaining_amount":"1"}]`))
	if len(batch) != 2 {
		t.Fatalf("expected 2 events, got %d", len(batch))
	}
	if !batch[0].Fill() {
		t.Fatalf("expected first event to be a fill")
	}
	if batch[1].Fill() {
		t.Fatalf("booked event should not be a fill")
	}

	if events := decodeOrderEvents([]byte(`{"type":"heartbeat"}`)); len(events) != 0 {
		t.Fatalf("heartbeat should decode to no events, got %d", len(events))
	}
	if events := decodeOrderEvents([]byte(`{"type":"subscription_ack"}`)); len(events) != 0 {
		t.Fatalf("subscription ack should decode to no events, got %d", len(events))
	}
}
