package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRegistered(t *testing.T) {
	OrdersSubmitted.WithLabelValues("BTC").Inc()
	OrdersFailed.WithLabelValues("ETH", "unreachable").Inc()
	OrdersSkipped.WithLabelValues("BTC").Inc()
	InvocationsTotal.WithLabelValues("ok").Inc()

	if v := testutil.ToFloat64(OrdersSubmitted.WithLabelValues("BTC")); v < 1 {
		t.Fatalf("expected submitted counter >= 1, got %f", v)
	}
	if v := testutil.ToFloat64(OrdersFailed.WithLabelValues("ETH", "unreachable")); v < 1 {
		t.Fatalf("expected failed counter >= 1, got %f", v)
	}
}
