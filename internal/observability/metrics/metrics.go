package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics exposes counters/histograms for reminder dispatch.
type DispatchMetrics struct {
	outcomesTotal *prometheus.CounterVec
	claimedTotal  *prometheus.CounterVec
	producedTotal *prometheus.CounterVec
	batchLatency  *prometheus.HistogramVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "send_outcomes_total",
			Help:      "Reminder send attempts by outcome",
		}, []string{"source", "outcome"}),
		claimedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "claimed_total",
			Help:      "Reminder jobs claimed for dispatch",
		}, []string{"source"}),
		producedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "produced_total",
			Help:      "Reminder jobs derived from appointments",
		}, []string{"result"}),
		batchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "reminders",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one dispatch batch",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomesTotal, m.claimedTotal, m.producedTotal, m.batchLatency)
	return m
}

// ObserveOutcome counts one job resolution (success, retry, failed, error).
func (m *DispatchMetrics) ObserveOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.outcomesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *DispatchMetrics) ObserveClaimed(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.claimedTotal.WithLabelValues(source).Add(float64(n))
}

func (m *DispatchMetrics) ObserveProduced(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.producedTotal.WithLabelValues(result).Add(float64(n))
}

func (m *DispatchMetrics) ObserveBatchDuration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.batchLatency.WithLabelValues(source).Observe(seconds)
}
