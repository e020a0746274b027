// Package telemetry - метрики синхронизации физики для Prometheus.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const namespace = "physync"

// Metrics - набор коллекторов воркера и хоста. Нулевой указатель допустим:
// все методы на nil ничего не делают.
type Metrics struct {
	StepDuration    prometheus.Histogram
	Substeps        prometheus.Counter
	FPS             prometheus.Gauge
	Bodies          *prometheus.GaugeVec
	PublishedFrames *prometheus.CounterVec
	ConsumedFrames  prometheus.Counter
	Messages        *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	BodyErrors      *prometheus.CounterVec
	PendingRequests prometheus.Gauge

	mu            sync.Mutex
	lastPrint     time.Time
	printInterval time.Duration
	published     int
	consumed      int
}

// New регистрирует коллекторы в reg. reg == nil создаёт незарегистрированные
// коллекторы, это удобно в тестах.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one solver step call",
			Buckets:   []float64{.0005, .001, .002, .004, .008, .016, .033, .066, .1},
		}),
		Substeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "substeps_total",
			Help:      "Fixed substeps executed by the solver",
		}),
		FPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_fps",
			Help:      "Published frames per second measured by the worker",
		}),
		Bodies: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bodies",
			Help:      "Live bodies by kind",
		}, []string{"kind"}),
		PublishedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_frames_total",
			Help:      "Frames published by the worker by buffer mode",
		}, []string{"mode"}),
		ConsumedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumed_frames_total",
			Help:      "Frames copied into the scene by the host",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Commands handled by the worker by type",
		}, []string{"type"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Messages dropped by reason",
		}, []string{"reason"}),
		BodyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "body_errors_total",
			Help:      "Per-body failures by error kind",
		}, []string{"kind"}),
		PendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Host requests waiting for a worker response",
		}),
		printInterval: 10 * time.Second,
	}
}

// ObserveStep записывает длительность шага и число подшагов.
func (m *Metrics) ObserveStep(d time.Duration, substeps int) {
	if m == nil {
		return
	}
	m.StepDuration.Observe(d.Seconds())
	m.Substeps.Add(float64(substeps))
}

func (m *Metrics) SetFPS(fps float64) {
	if m == nil {
		return
	}
	m.FPS.Set(fps)
}

// SetBodies задаёт число живых тел вида kind (rigid, soft, constraint).
func (m *Metrics) SetBodies(kind string, n int) {
	if m == nil {
		return
	}
	m.Bodies.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) FramePublished(mode string) {
	if m == nil {
		return
	}
	m.PublishedFrames.WithLabelValues(mode).Inc()
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *Metrics) FrameConsumed() {
	if m == nil {
		return
	}
	m.ConsumedFrames.Inc()
	m.mu.Lock()
	m.consumed++
	m.mu.Unlock()
}

func (m *Metrics) Message(msgType string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(msgType).Inc()
}

// Drop учитывает отброшенное сообщение (protocol_violation, stale, unmatched).
func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) BodyError(kind string) {
	if m == nil {
		return
	}
	m.BodyErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

// PrintSummary раз в интервал пишет в лог число опубликованных и
// прочитанных кадров с прошлой сводки.
func (m *Metrics) PrintSummary(logger *zap.Logger, now time.Time) {
	if m == nil || logger == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastPrint) < m.printInterval {
		return
	}
	if !m.lastPrint.IsZero() {
		logger.Info("[Telemetry] frame summary",
			zap.Int("published", m.published),
			zap.Int("consumed", m.consumed),
			zap.Duration("interval", now.Sub(m.lastPrint)),
		)
	}
	m.published = 0
	m.consumed = 0
	m.lastPrint = now
}
