// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loopcore"

// Metrics implements the observer interfaces of the ring consumers, the
// snapshot, the workers, the MIDI pipeline and the audio engine. Methods
// that may be called from the audio callback use pre-resolved children so
// they only perform atomic adds.
type Metrics struct {
	registry *prometheus.Registry

	midiEvents     *prometheus.CounterVec
	midiSent       prometheus.Counter
	midiFailed     prometheus.Counter
	midiDropped    prometheus.Counter
	swapRejected   prometheus.Counter
	swapDrain      prometheus.Histogram
	workerRuns     *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	workerPanics   *prometheus.CounterVec
	blocks         prometheus.Counter
	dispatched     *prometheus.CounterVec
	queueRejected  *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}

	m.midiEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "midi",
		Name:      "events_total",
		Help:      "Outbound MIDI events by result.",
	}, []string{"result"})
	m.midiSent = m.midiEvents.WithLabelValues("sent")
	m.midiFailed = m.midiEvents.WithLabelValues("failed")
	m.midiDropped = m.midiEvents.WithLabelValues("dropped")

	m.swapRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "swap_rejected_total",
		Help:      "Model swaps rejected because a previous swap was still draining.",
	})
	m.swapDrain = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "swap_drain_seconds",
		Help:      "Time spent waiting for readers of the old model to finish.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})

	m.workerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "runs_total",
		Help:      "Completed task runs per worker.",
	}, []string{"worker"})
	m.workerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "run_duration_seconds",
		Help:      "Task run duration per worker.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"worker"})
	m.workerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "panics_total",
		Help:      "Task panics per worker.",
	}, []string{"worker"})

	m.blocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audio",
		Name:      "blocks_total",
		Help:      "Audio blocks processed.",
	})
	m.dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_total",
		Help:      "Events applied to the model by kind.",
	}, []string{"kind"})
	m.queueRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "rejected_total",
		Help:      "Events rejected because a dispatcher queue was full.",
	}, []string{"queue"})

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.midiEvents,
		m.swapRejected,
		m.swapDrain,
		m.workerRuns,
		m.workerDuration,
		m.workerPanics,
		m.blocks,
		m.dispatched,
		m.queueRejected,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) MIDISent()       { m.midiSent.Inc() }
func (m *Metrics) MIDISendFailed() { m.midiFailed.Inc() }
func (m *Metrics) MIDIDropped()    { m.midiDropped.Inc() }

func (m *Metrics) SwapRejected() { m.swapRejected.Inc() }

func (m *Metrics) SwapDrained(d time.Duration) {
	m.swapDrain.Observe(d.Seconds())
}

func (m *Metrics) TaskRan(name string, d time.Duration) {
	m.workerRuns.WithLabelValues(name).Inc()
	m.workerDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) TaskPanicked(name string) {
	m.workerPanics.WithLabelValues(name).Inc()
}

func (m *Metrics) BlockProcessed() { m.blocks.Inc() }

func (m *Metrics) EventDispatched(kind string) {
	m.dispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventRejected(queue string) {
	m.queueRejected.WithLabelValues(queue).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("serving metrics", "module", "metrics", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
