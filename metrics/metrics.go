package metrics

import (
	"net/http"
	"strconv"

	"cart-reservation/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cart"

// Metrics groups the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	CartOps   *prometheus.CounterVec
	Payments  *prometheus.CounterVec
	Reaped    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		CartOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Cart operations by outcome code.",
		}, []string{"op", "outcome"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_steps_total",
			Help:      "Checkout and confirmation attempts by outcome code.",
		}, []string{"step", "outcome"}),
		Reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_total",
			Help:      "Stale open carts released by the reaper.",
		}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.CartOps, m.Payments, m.Reaped)
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.Code(err)
}

func (m *Metrics) CartOp(op string, err error) {
	if m == nil {
		return
	}
	m.CartOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) PaymentStep(step string, err error) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(step, outcome(err)).Inc()
}

func (m *Metrics) CartsReaped(n int) {
	if m == nil {
		return
	}
	m.Reaped.Add(float64(n))
}

func (m *Metrics) Request(handler string, status int, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(ms)
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
