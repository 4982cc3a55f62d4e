package midi

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"golang.org/x/time/rate"

	"github.com/mrdg/loopcore/logging"
	"github.com/mrdg/loopcore/ring"
	"github.com/mrdg/loopcore/worker"
)

const (
	defaultPortQueue = 1024
	defaultFlush     = time.Millisecond
)

// PortDevice is a Device backed by a hardware or virtual output port. Send
// only queues the event, so it is safe to call from the audio callback; a
// worker goroutine hands queued events to the port driver.
type PortDevice struct {
	name    string
	send    func(gomidi.Message) error
	queue   *ring.Buffer[Event]
	flusher *worker.Worker
	monitor *Monitor
	log     *slog.Logger
	warn    rate.Sometimes

	queueSize int
	interval  time.Duration
	workerObs worker.Observer

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// PortOption configures a PortDevice.
type PortOption func(*PortDevice)

// WithQueueSize sets the number of slots of the outbound queue.
func WithQueueSize(n int) PortOption {
	return func(d *PortDevice) { d.queueSize = n }
}

// WithFlushInterval sets how long the flusher sleeps between drains.
func WithFlushInterval(interval time.Duration) PortOption {
	return func(d *PortDevice) { d.interval = interval }
}

// WithPortLogger sets the logger for driver errors.
func WithPortLogger(log *slog.Logger) PortOption {
	return func(d *PortDevice) { d.log = log }
}

// WithMonitor records every delivered message in m.
func WithMonitor(m *Monitor) PortOption {
	return func(d *PortDevice) { d.monitor = m }
}

// WithFlushObserver reports flusher statistics to o.
func WithFlushObserver(o worker.Observer) PortOption {
	return func(d *PortDevice) { d.workerObs = o }
}

// NewPortDevice returns a stopped device that delivers events through send.
func NewPortDevice(name string, send func(gomidi.Message) error, opts ...PortOption) *PortDevice {
	d := &PortDevice{
		name:      name,
		send:      send,
		log:       slog.Default(),
		queueSize: defaultPortQueue,
		interval:  defaultFlush,
		warn:      rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.Module(d.log, "midi").With("port", name)
	d.queue = ring.New[Event](d.queueSize)

	wopts := []worker.Option{worker.WithName("midi-out"), worker.WithLogger(d.log)}
	if d.workerObs != nil {
		wopts = append(wopts, worker.WithObserver(d.workerObs))
	}
	d.flusher = worker.New(d.interval, wopts...)
	return d
}

// OpenOutPort finds the output port whose name contains name and returns a
// started device writing to it.
func OpenOutPort(name string, opts ...PortOption) (*PortDevice, error) {
	out, err := gomidi.FindOutPort(name)
	if err != nil {
		return nil, fmt.Errorf("find output port %q: %w", name, err)
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("open output port %q: %w", name, err)
	}
	d := NewPortDevice(out.String(), send, opts...)
	if err := d.Start(); err != nil {
		return nil, err
	}
	return d, nil
}

// Name returns the port name.
func (d *PortDevice) Name() string { return d.name }

// Send queues e for delivery. It returns ErrQueueFull if the flusher has
// fallen behind.
func (d *PortDevice) Send(e Event) error {
	if !d.queue.Push(e) {
		d.dropped.Add(1)
		return ErrQueueFull
	}
	return nil
}

// Start launches the flusher.
func (d *PortDevice) Start() error {
	return d.flusher.Start(d.flush)
}

// Close stops the flusher and delivers whatever is still queued.
func (d *PortDevice) Close() error {
	d.flusher.Stop()
	d.flush()
	return nil
}

// Dropped returns the number of events rejected by a full queue.
func (d *PortDevice) Dropped() uint64 { return d.dropped.Load() }

// Failed returns the number of events the driver refused.
func (d *PortDevice) Failed() uint64 { return d.failed.Load() }

func (d *PortDevice) flush() {
	for e := range d.queue.All() {
		msg := e.Message()
		if err := d.send(msg); err != nil {
			d.failed.Add(1)
			d.warn.Do(func() {
				d.log.Warn("send failed", "msg", msg.String(), "error", err)
			})
			continue
		}
		if d.monitor != nil {
			d.monitor.Record(msg)
		}
	}
}
