// Package metrics records operational metrics for validation, tracking and notification.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives operation outcomes from the core components.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	IncValidation(status string)
	IncNotification(success bool)
	SetMonitorRunning(running bool)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}
func (Nop) IncValidation(string)                                {}
func (Nop) IncNotification(bool)                                {}
func (Nop) SetMonitorRunning(bool)                              {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Prometheus publishes observations as Prometheus collectors on its own registry.
type Prometheus struct {
	registry      *prometheus.Registry
	durations     *prometheus.HistogramVec
	validations   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	running       prometheus.Gauge
}

// NewPrometheus constructs a recorder with a private registry that also carries
// the Go runtime and process collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ordergate",
			Name:      "operation_duration_seconds",
			Help:      "Duration of core operations by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordergate",
			Name:      "validations_total",
			Help:      "Validation passes by aggregate status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordergate",
			Name:      "notifications_total",
			Help:      "Notification attempts by result.",
		}, []string{"result"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ordergate",
			Name:      "monitor_running",
			Help:      "1 while the error monitor is running.",
		}),
	}
	reg.MustRegister(
		p.durations,
		p.validations,
		p.notifications,
		p.running,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return p
}

// Observe records an operation outcome.
func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	p.durations.WithLabelValues(operation, result(success)).Observe(duration.Seconds())
}

// IncValidation counts a completed validation pass.
func (p *Prometheus) IncValidation(status string) {
	p.validations.WithLabelValues(status).Inc()
}

// IncNotification counts a notification attempt.
func (p *Prometheus) IncNotification(success bool) {
	p.notifications.WithLabelValues(result(success)).Inc()
}

// SetMonitorRunning flips the monitor gauge.
func (p *Prometheus) SetMonitorRunning(running bool) {
	if running {
		p.running.Set(1)
		return
	}
	p.running.Set(0)
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
