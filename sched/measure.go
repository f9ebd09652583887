package sched

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Measure struct {
	wakeups *prometheus.CounterVec
	waits   *prometheus.CounterVec
	cancels *prometheus.CounterVec
	threads prometheus.Gauge
}

type MeasureOptions struct {
	Namespace   string
	Subsystem   string
	ServiceName string

	// Registerer to attach the collectors to, prometheus.DefaultRegisterer
	// when empty.
	Registerer prometheus.Registerer
}

func NewMeasure(config MeasureOptions) *Measure {
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registerer)

	wakeups := factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "thread_wakeups_total",
			Help:      "Thread wakeups by reason (none = direct handoff)",
			ConstLabels: prometheus.Labels{
				"service": config.ServiceName,
			},
		},
		[]string{"reason"},
	)

	waits := factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "cond_waits_total",
			Help:      "Finished condition variable waits by outcome",
			ConstLabels: prometheus.Labels{
				"service": config.ServiceName,
			},
		},
		[]string{"outcome"},
	)

	cancels := factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "cancel_requests_total",
			Help:      "Cancellation requests by delivery path",
			ConstLabels: prometheus.Labels{
				"service": config.ServiceName,
			},
		},
		[]string{"delivery"},
	)

	threads := factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "threads_running",
			Help:      "Logical threads currently alive",
			ConstLabels: prometheus.Labels{
				"service": config.ServiceName,
			},
		},
	)

	return &Measure{
		wakeups: wakeups,
		waits:   waits,
		cancels: cancels,
		threads: threads,
	}
}

func (m *Measure) wakeup(reason WakeReason) {
	m.wakeups.WithLabelValues(reason.String()).Inc()
}

// WaitFinished records the outcome of a finished wait: "signaled",
// "timeout", "interrupted" or "error".
func (m *Measure) WaitFinished(outcome string) {
	m.waits.WithLabelValues(outcome).Inc()
}

func (m *Measure) cancelRequested(deferred bool) {
	delivery := "direct"
	if deferred {
		delivery = "deferred"
	}
	m.cancels.WithLabelValues(delivery).Inc()
}

func (m *Measure) threadStarted() {
	m.threads.Inc()
}

func (m *Measure) threadStopped() {
	m.threads.Dec()
}

func (m *Measure) Handler() http.Handler {
	return promhttp.Handler()
}
