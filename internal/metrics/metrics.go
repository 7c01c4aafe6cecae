package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_submitted_total", Help: "Orders accepted by the exchange"},
		[]string{"asset"},
	)
	OrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_failed_total", Help: "Orders that ended in a failed state"},
		[]string{"asset", "reason"},
	)
	OrdersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_skipped_total", Help: "Assets skipped before submission"},
		[]string{"asset"},
	)
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "invocations_total", Help: "Orchestrator runs by outcome"},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersFailed, OrdersSkipped, InvocationsTotal)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
