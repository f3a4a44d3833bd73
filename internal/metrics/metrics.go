package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visiontrigger/internal/link"
	"visiontrigger/internal/pipeline"
)

// Metrics holds the daemon's counters and exposes them to Prometheus
type Metrics struct {
	// Control loop
	DetectionBatches atomic.Uint64
	CaptureErrors    atomic.Uint64
	Fires            atomic.Uint64
	DroppedFires     atomic.Uint64

	// Peer
	Notifications atomic.Uint64
	LinkStatus    atomic.Int32
	Reconnects    atomic.Uint64

	actuations *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visiontrigger_actuations_total",
			Help: "Finished actuation tasks by result",
		}, []string{"result"}),
	}

	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.actuations)

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_detection_batches_total",
			Help: "Batches containing the target label",
		},
		func() float64 { return float64(m.DetectionBatches.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_capture_errors_total",
			Help: "Capture or inference failures",
		},
		func() float64 { return float64(m.CaptureErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_fires_total",
			Help: "Trigger fires admitted by the guard",
		},
		func() float64 { return float64(m.Fires.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_fires_dropped_total",
			Help: "Trigger fires dropped because an actuation was in flight",
		},
		func() float64 { return float64(m.DroppedFires.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_notifications_total",
			Help: "Messages received from the peer",
		},
		func() float64 { return float64(m.Notifications.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "visiontrigger_link_status",
			Help: "Link state (0=disconnected, 1=connecting, 2=connected)",
		},
		func() float64 { return float64(m.LinkStatus.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "visiontrigger_link_reconnects_total",
			Help: "Sessions lost and re-established",
		},
		func() float64 { return float64(m.Reconnects.Load()) },
	))
}

// OnEvent counts control events; attach it to the event bus
func (m *Metrics) OnEvent(event *pipeline.Event) {
	switch event.Type {
	case pipeline.EventDetections:
		m.DetectionBatches.Add(1)
	case pipeline.EventCaptureError:
		m.CaptureErrors.Add(1)
	case pipeline.EventFire:
		m.Fires.Add(1)
	case pipeline.EventFireDropped:
		m.DroppedFires.Add(1)
	case pipeline.EventNotification:
		m.Notifications.Add(1)
	case pipeline.EventActuation:
		result := "ok"
		if event.Error != "" {
			result = "error"
		}
		m.actuations.WithLabelValues(result).Inc()
	}
}

// OnLinkState tracks the link; register it with link.Manager.OnStateChange
func (m *Metrics) OnLinkState(session link.LinkSession) {
	m.LinkStatus.Store(int32(session.Status))
	m.Reconnects.Store(uint64(session.Reconnects))
}

// Registry exposes the registry for extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
