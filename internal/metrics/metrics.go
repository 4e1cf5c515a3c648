package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics records promotion evaluation and sale activity.
type POSMetrics struct {
	evaluations *prometheus.HistogramVec
	applied     *prometheus.CounterVec
	sales       prometheus.Counter
	netCents    prometheus.Counter
	discount    prometheus.Counter
	rejected    *prometheus.CounterVec
}

// New registers the POS metrics on reg. A nil registerer yields a recorder
// that drops everything.
func New(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	m := &POSMetrics{
		evaluations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pos_promo_evaluation_seconds",
			Help:    "Duration of promotion engine passes in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"operation"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_promotions_applied_total",
			Help: "Promotion rules that fired, by rule type.",
		}, []string{"type"}),
		sales: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sales_committed_total",
			Help: "Committed sales.",
		}),
		netCents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sales_net_cents_total",
			Help: "Net amount of committed sales in cents.",
		}),
		discount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_sales_discount_cents_total",
			Help: "Promotion discounts granted on committed sales in cents.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_carts_rejected_total",
			Help: "Carts rejected before pricing, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.evaluations, m.applied, m.sales, m.netCents, m.discount, m.rejected)
	return m
}

// ObserveEvaluation records one engine pass for operation (quote, commit,
// sandbox) and the types of the rules that fired.
func (m *POSMetrics) ObserveEvaluation(operation string, duration time.Duration, firedTypes []string) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
	for _, t := range firedTypes {
		m.applied.WithLabelValues(normalizeLabel(t)).Inc()
	}
}

func (m *POSMetrics) ObserveSale(netCents int64, discountCents int64) {
	if m == nil || m.sales == nil {
		return
	}
	m.sales.Inc()
	if netCents > 0 {
		m.netCents.Add(float64(netCents))
	}
	if discountCents > 0 {
		m.discount.Add(float64(discountCents))
	}
}

func (m *POSMetrics) IncRejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
