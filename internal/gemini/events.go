package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const orderEventsEndpoint = "/v1/order/events"

// OrderEvent is one entry from the order events stream.
type OrderEvent struct {
	Type            string `json:"type"`
	OrderID         string `json:"order_id"`
	ClientOrderID   string `json:"client_order_id"`
	Symbol          string `json:"symbol"`
	IsLive          bool   `json:"is_live"`
	IsCancelled     bool   `json:"is_cancelled"`
	ExecutedAmount  string `json:"executed_amount"`
	RemainingAmount string `json:"remaining_amount"`
}

// Fill reports whether the event closes out the full order quantity.
func (e OrderEvent) Fill() bool {
	if e.Type != "fill" && e.Type != "closed" {
		return false
	}
	return e.RemainingAmount == "0" || (!e.IsLive && !e.IsCancelled)
}

// StreamOrderEvents subscribes to the authenticated order events feed and
// pushes events onto out until the context ends. The subscription uses
// the same signed-payload headers as the REST endpoints.
func (c *Client) StreamOrderEvents(ctx context.Context, out chan<- OrderEvent) error {
	payload := map[string]any{
		"request": orderEventsEndpoint,
		"nonce":   c.nextNonce(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini: encode subscription payload: %w", err)
	}
	encoded, signature := c.sign(raw)

	header := http.Header{}
	header.Set("X-GEMINI-APIKEY", c.apiKey)
	header.Set("X-GEMINI-PAYLOAD", encoded)
	header.Set("X-GEMINI-SIGNATURE", signature)

	url := strings.Replace(c.baseURL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url+orderEventsEndpoint, header)
	if err != nil {
		return fmt.Errorf("gemini: dial order events: %w", err)
	}
	defer conn.Close()

	c.log.Info().Msg("connected order events feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.log.Warn().Err(err).Msg("order events ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gemini: read order events: %w", err)
		}

		for _, event := range decodeOrderEvents(message) {
			select {
			case out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeOrderEvents handles the stream's two message shapes: a single
// object (subscription_ack, heartbeat) or an array of order events.
// Non-order messages decode to events with an empty order id and are
// dropped here.
func decodeOrderEvents(message []byte) []OrderEvent {
	trimmed := strings.TrimSpace(string(message))
	var batch []OrderEvent
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(message, &batch); err != nil {
			return nil
		}
	} else {
		var single OrderEvent
		if err := json.Unmarshal(message, &single); err != nil {
			return nil
		}
		batch = []OrderEvent{single}
	}
	events := batch[:0]
	for _, e := range batch {
		if e.OrderID != "" {
			events = append(events, e)
		}
	}
	return events
}
