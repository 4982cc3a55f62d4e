package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/mrdg/loopcore/logging"
	"github.com/mrdg/loopcore/midi"
	"github.com/mrdg/loopcore/rcu"
	"github.com/mrdg/loopcore/ring"
	"github.com/mrdg/loopcore/worker"
)

// ErrUnknownChannel is returned for operations on a channel id that is not
// part of the model.
var ErrUnknownChannel = errors.New("unknown channel")

type EventKind uint8

const (
	EventAddChannel EventKind = iota
	EventRemoveChannel
	EventSetOutputFilter
	EventArm
	EventRecord
	EventMIDI
	EventAllNotesOff
	EventClearActions
	EventLoadPatch
)

var eventKindNames = [...]string{
	EventAddChannel:      "add_channel",
	EventRemoveChannel:   "remove_channel",
	EventSetOutputFilter: "set_output_filter",
	EventArm:             "arm",
	EventRecord:          "record",
	EventMIDI:            "midi",
	EventAllNotesOff:     "all_notes_off",
	EventClearActions:    "clear_actions",
	EventLoadPatch:       "load_patch",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Event is a request to change the model. Which fields are used depends on
// Kind.
type Event struct {
	Kind    EventKind
	Channel midi.ChannelID // 0 means every channel where that makes sense
	Name    string
	Value   int
	On      bool
	MIDI    midi.Event
	Frame   int64 // loop position at which a MIDI event was dispatched
	Patch   *Patch
}

const (
	defaultRate         = 5 * time.Millisecond
	defaultQueueSize    = 2048
	defaultChannelQueue = 1024
	defaultBlockFrames  = 256
)

// Dispatcher is the only writer of the model. UI and MIDI events arrive on
// two single-producer queues; a worker drains both, applies them to a clone
// of the model and publishes it. Events of a rejected swap are applied again
// to a fresh clone on the next run.
type Dispatcher struct {
	engine *Engine
	model  *rcu.Snapshot[Model]
	ui     *ring.Buffer[Event]
	midi   *ring.Buffer[Event]
	worker *worker.Worker
	log    *slog.Logger

	rate         time.Duration
	queueSize    int
	channelQueue int
	blockFrames  int
	workerObs    worker.Observer

	nextID atomic.Int64

	// Owned by the worker goroutine.
	pending []Event
	shared  map[midi.ChannelID]*midi.ChannelShared
}

type DispatcherOption func(*Dispatcher)

// WithRate sets how long the dispatcher sleeps between runs.
func WithRate(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) { x.rate = d }
}

// WithQueueSize sets the slots of each of the UI and MIDI queues.
func WithQueueSize(n int) DispatcherOption {
	return func(x *Dispatcher) { x.queueSize = n }
}

// WithChannelQueue sets the slots of every channel's inbound queue.
func WithChannelQueue(n int) DispatcherOption {
	return func(x *Dispatcher) { x.channelQueue = n }
}

// WithBlockFrames sets the audio block length used to clamp event deltas.
func WithBlockFrames(n int) DispatcherOption {
	return func(x *Dispatcher) { x.blockFrames = n }
}

func WithLogger(log *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) { x.log = log }
}

// WithWorkerObserver reports worker statistics to o.
func WithWorkerObserver(o worker.Observer) DispatcherOption {
	return func(x *Dispatcher) { x.workerObs = o }
}

func NewDispatcher(e *Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:       e,
		model:        e.model,
		log:          slog.Default(),
		rate:         defaultRate,
		queueSize:    defaultQueueSize,
		channelQueue: defaultChannelQueue,
		blockFrames:  defaultBlockFrames,
		shared:       make(map[midi.ChannelID]*midi.ChannelShared),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.Module(d.log, "dispatcher")
	d.ui = ring.New[Event](d.queueSize)
	d.midi = ring.New[Event](d.queueSize)

	wopts := []worker.Option{worker.WithName("dispatcher"), worker.WithLogger(d.log)}
	if d.workerObs != nil {
		wopts = append(wopts, worker.WithObserver(d.workerObs))
	}
	d.worker = worker.New(d.rate, wopts...)

	d.model.Read(func(m *Model) {
		for _, ch := range m.Channels {
			d.shared[ch.ID] = ch.Shared
			d.reserveID(ch.ID)
		}
	})
	return d
}

// Start launches the worker.
func (d *Dispatcher) Start() error {
	return d.worker.Start(d.process)
}

// Close stops the worker. Queued events are left in place.
func (d *Dispatcher) Close() error {
	return d.worker.Close()
}

// SetRate changes the interval between runs.
func (d *Dispatcher) SetRate(rate time.Duration) {
	d.worker.SetSleep(rate)
}

// Rate returns the interval between runs.
func (d *Dispatcher) Rate() time.Duration {
	return d.worker.Sleep()
}

// PumpUIEvent queues ev. All UI events must come from one goroutine.
func (d *Dispatcher) PumpUIEvent(ev Event) error {
	if !d.ui.Push(ev) {
		d.engine.observer.EventRejected("ui")
		return midi.ErrQueueFull
	}
	return nil
}

// PumpMIDIEvent queues an incoming MIDI event. All MIDI events must come
// from one goroutine, usually the input port listener.
func (d *Dispatcher) PumpMIDIEvent(e midi.Event) error {
	if !d.midi.Push(Event{Kind: EventMIDI, MIDI: e}) {
		d.engine.observer.EventRejected("midi")
		return midi.ErrQueueFull
	}
	return nil
}

// InjectMIDI queues a MIDI event on the UI queue, as if it had been played
// on the input port.
func (d *Dispatcher) InjectMIDI(e midi.Event) error {
	return d.PumpUIEvent(Event{Kind: EventMIDI, MIDI: e})
}

// AddChannel queues the creation of a channel and returns its id.
func (d *Dispatcher) AddChannel(name string) (midi.ChannelID, error) {
	id := midi.ChannelID(d.nextID.Add(1))
	return id, d.PumpUIEvent(Event{Kind: EventAddChannel, Channel: id, Name: name})
}

func (d *Dispatcher) RemoveChannel(id midi.ChannelID) error {
	return d.PumpUIEvent(Event{Kind: EventRemoveChannel, Channel: id})
}

// SetOutputFilter routes the channel's output to MIDI channel filter.
func (d *Dispatcher) SetOutputFilter(id midi.ChannelID, filter int) error {
	if filter < 0 || filter >= midi.MaxChannels {
		return fmt.Errorf("output filter %d out of range 0-%d", filter, midi.MaxChannels-1)
	}
	return d.PumpUIEvent(Event{Kind: EventSetOutputFilter, Channel: id, Value: filter})
}

// Arm makes a channel receive (and record) incoming MIDI.
func (d *Dispatcher) Arm(id midi.ChannelID, on bool) error {
	return d.PumpUIEvent(Event{Kind: EventArm, Channel: id, On: on})
}

func (d *Dispatcher) Record(on bool) error {
	return d.PumpUIEvent(Event{Kind: EventRecord, On: on})
}

func (d *Dispatcher) AllNotesOff() error {
	return d.PumpUIEvent(Event{Kind: EventAllNotesOff})
}

// ClearActions drops the recorded actions of a channel, or of every
// channel if id is 0.
func (d *Dispatcher) ClearActions(id midi.ChannelID) error {
	return d.PumpUIEvent(Event{Kind: EventClearActions, Channel: id})
}

// LoadPatch replaces the whole model with p.
func (d *Dispatcher) LoadPatch(p *Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, ch := range p.Channels {
		d.reserveID(midi.ChannelID(ch.ID))
	}
	return d.PumpUIEvent(Event{Kind: EventLoadPatch, Patch: p})
}

func (d *Dispatcher) reserveID(id midi.ChannelID) {
	for {
		cur := d.nextID.Load()
		if int64(id) <= cur || d.nextID.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// process is the worker task.
func (d *Dispatcher) process() {
	fresh := len(d.pending)
	pos := d.engine.Position()
	for ev := range d.ui.All() {
		if ev.Kind == EventMIDI {
			ev.Frame = pos
		}
		d.pending = append(d.pending, ev)
	}
	for ev := range d.midi.All() {
		ev.Frame = pos
		d.pending = append(d.pending, ev)
	}
	if len(d.pending) == 0 {
		return
	}

	next := d.model.Clone()
	for i := range d.pending {
		ev := &d.pending[i]
		if err := d.apply(next, ev); err != nil && i >= fresh {
			d.log.Warn("event ignored", "kind", ev.Kind.String(), "channel", int(ev.Channel), "error", err)
		}
		if i >= fresh {
			d.route(next, ev)
			d.engine.observer.EventDispatched(ev.Kind.String())
		}
	}

	if !d.model.Swap(next) {
		d.log.Debug("swap rejected, retrying", "pending", len(d.pending))
		return
	}
	clear(d.pending)
	d.pending = d.pending[:0]
	maps.DeleteFunc(d.shared, func(id midi.ChannelID, _ *midi.ChannelShared) bool {
		return next.Channel(id) == nil
	})
}

// apply changes m according to ev. It has no effect outside m, so it can be
// repeated on a fresh clone.
func (d *Dispatcher) apply(m *Model, ev *Event) error {
	switch ev.Kind {
	case EventAddChannel:
		if m.Channel(ev.Channel) != nil {
			return fmt.Errorf("channel %d already exists", ev.Channel)
		}
		m.Channels = append(m.Channels, Channel{
			ID:     ev.Channel,
			Name:   ev.Name,
			Shared: d.channelShared(ev.Channel),
		})
	case EventRemoveChannel:
		if !m.removeChannel(ev.Channel) {
			return ErrUnknownChannel
		}
	case EventSetOutputFilter:
		ch := m.Channel(ev.Channel)
		if ch == nil {
			return ErrUnknownChannel
		}
		ch.OutputFilter = uint8(ev.Value)
	case EventArm:
		ch := m.Channel(ev.Channel)
		if ch == nil {
			return ErrUnknownChannel
		}
		ch.Armed = ev.On
	case EventRecord:
		m.Recording = ev.On
	case EventMIDI:
		if !m.Recording || !ev.MIDI.IsNoteOnOff() {
			return nil
		}
		for _, ch := range m.Channels {
			if ch.Armed {
				m.addAction(midi.Action{ChannelID: ch.ID, Frame: ev.Frame, Event: ev.MIDI.WithDelta(0)})
			}
		}
	case EventClearActions:
		if ev.Channel == 0 {
			m.Actions = m.Actions[:0]
			return nil
		}
		if m.Channel(ev.Channel) == nil {
			return ErrUnknownChannel
		}
		m.removeActions(ev.Channel)
	case EventLoadPatch:
		d.applyPatch(m, ev.Patch)
	}
	return nil
}

// route performs the side effects of ev. It runs once per event.
func (d *Dispatcher) route(m *Model, ev *Event) {
	switch ev.Kind {
	case EventMIDI:
		for _, ch := range m.Channels {
			if ch.Armed {
				d.engine.pipeline.EnqueueEvent(ch.Shared, ev.MIDI.WithDelta(0))
			}
		}
	case EventAllNotesOff:
		d.engine.RequestAllNotesOff()
	}
}

func (d *Dispatcher) applyPatch(m *Model, p *Patch) {
	if p.LoopFrames > 0 {
		m.LoopFrames = p.LoopFrames
	}
	m.Recording = false
	m.Channels = m.Channels[:0]
	for _, pc := range p.Channels {
		id := midi.ChannelID(pc.ID)
		m.Channels = append(m.Channels, Channel{
			ID:           id,
			Name:         pc.Name,
			OutputFilter: pc.OutputFilter,
			Armed:        pc.Armed,
			Shared:       d.channelShared(id),
		})
	}
	m.Actions = m.Actions[:0]
	for _, pa := range p.Actions {
		m.addAction(midi.Action{
			ChannelID: midi.ChannelID(pa.Channel),
			Frame:     pa.Frame,
			Event:     midi.FromRaw(pa.Event),
		})
	}
}

func (d *Dispatcher) channelShared(id midi.ChannelID) *midi.ChannelShared {
	s, ok := d.shared[id]
	if !ok {
		s = midi.NewChannelShared(d.channelQueue, d.blockFrames)
		d.shared[id] = s
	}
	return s
}

// Snapshot returns a copy of the published model, safe to keep.
func (d *Dispatcher) Snapshot() *Model {
	var c *Model
	d.model.Read(func(m *Model) { c = m.Clone() })
	return c
}
