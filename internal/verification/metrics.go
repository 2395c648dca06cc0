package verification

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors for verification outcomes
type Metrics struct {
	results    *prometheus.CounterVec
	rejections *prometheus.CounterVec
	credits    prometheus.Histogram
	duration   prometheus.Histogram
}

// NewMetrics creates and registers verification collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carboniq",
			Subsystem: "verification",
			Name:      "results_total",
			Help:      "Verification results by status.",
		}, []string{"status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carboniq",
			Subsystem: "verification",
			Name:      "rejection_reasons_total",
			Help:      "Rejection reasons emitted by the engine.",
		}, []string{"reason"}),
		credits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carboniq",
			Subsystem: "verification",
			Name:      "carbon_credits",
			Help:      "Credits awarded to verified farms.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "carboniq",
			Subsystem: "verification",
			Name:      "duration_seconds",
			Help:      "Time spent evaluating a submission, including simulated latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.results, m.rejections, m.credits, m.duration)
	}

	return m
}

func (m *Metrics) observe(r *Result, elapsed time.Duration) {
	if m == nil || r == nil {
		return
	}
	m.results.WithLabelValues(string(r.Status)).Inc()
	for _, reason := range r.RejectionReasons {
		m.rejections.WithLabelValues(ReasonCode(reason)).Inc()
	}
	if r.CarbonCredits != nil {
		m.credits.Observe(*r.CarbonCredits)
	}
	m.duration.Observe(elapsed.Seconds())
}
