package midi

import (
	"errors"

	"github.com/mrdg/loopcore/ring"
)

// ErrQueueFull is returned when an event could not be queued because the
// consumer has fallen behind.
var ErrQueueFull = errors.New("midi: queue full")

// Device receives outbound events. Implementations called from the audio
// callback must not block or allocate.
type Device interface {
	Send(Event) error
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(Event) error

func (f DeviceFunc) Send(e Event) error { return f(e) }

// TimedEvent is an event positioned at a frame of the current block.
type TimedEvent struct {
	Event Event
	Frame int
}

// RenderBuffer holds the inbound events of one audio block. Its capacity is
// fixed at construction so filling it never allocates.
type RenderBuffer struct {
	events []TimedEvent
	frames int
}

// NewRenderBuffer returns a buffer for up to capacity events in blocks of
// frames frames.
func NewRenderBuffer(capacity, frames int) *RenderBuffer {
	return &RenderBuffer{
		events: make([]TimedEvent, 0, capacity),
		frames: max(frames, 1),
	}
}

// Clear empties the buffer, keeping its storage.
func (b *RenderBuffer) Clear() {
	b.events = b.events[:0]
}

// Add places e at its delta, clamped to the block. It returns false when
// the buffer is full.
func (b *RenderBuffer) Add(e Event) bool {
	if len(b.events) == cap(b.events) {
		return false
	}
	frame := min(max(e.Delta, 0), b.frames-1)
	b.events = append(b.events, TimedEvent{Event: e, Frame: frame})
	return true
}

// Events returns the buffered events in arrival order. The slice is reused
// by the next Clear.
func (b *RenderBuffer) Events() []TimedEvent {
	return b.events
}

// Len returns the number of buffered events.
func (b *RenderBuffer) Len() int {
	return len(b.events)
}

// ChannelShared is the per-channel state shared between the goroutine
// feeding a channel and the audio callback. Exactly one goroutine pushes to
// Inbound; only the audio callback touches Render.
type ChannelShared struct {
	Inbound *ring.Buffer[Event]
	Render  *RenderBuffer
}

// NewChannelShared allocates a queue of queueSize slots and a render buffer
// large enough to hold a full queue.
func NewChannelShared(queueSize, frames int) *ChannelShared {
	return &ChannelShared{
		Inbound: ring.New[Event](queueSize),
		Render:  NewRenderBuffer(queueSize, frames),
	}
}

// Observer receives pipeline counters. Methods are called from the audio
// callback and must not block or allocate.
type Observer interface {
	MIDISent()
	MIDISendFailed()
	MIDIDropped()
}

type nopObserver struct{}

func (nopObserver) MIDISent()       {}
func (nopObserver) MIDISendFailed() {}
func (nopObserver) MIDIDropped()    {}

// Pipeline routes events into render buffers and out to devices. A Pipeline
// carries its own post-send callback; there is no package level state.
type Pipeline struct {
	onSend   func()
	observer Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOnSend installs the post-send callback.
func WithOnSend(f func()) Option {
	return func(p *Pipeline) { p.onSend = f }
}

// WithObserver reports pipeline counters to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline returns a pipeline. A post-send callback must be installed,
// here or with RegisterOnSendCallback, before anything is sent.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{observer: nopObserver{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterOnSendCallback replaces the callback invoked after every outbound
// send. Call it during setup only, never while the audio callback runs.
func (p *Pipeline) RegisterOnSendCallback(f func()) {
	p.onSend = f
}

// Send delivers e to d on channel outputFilter and then invokes the
// post-send callback.
func (p *Pipeline) Send(e Event, outputFilter uint8, d Device) {
	if p.onSend == nil {
		panic("midi: no on-send callback registered")
	}
	if err := d.Send(e.WithChannel(outputFilter)); err != nil {
		p.observer.MIDISendFailed()
	} else {
		p.observer.MIDISent()
	}
	p.onSend()
}

// SendFromActions sends, in order, the events of the actions belonging to
// channelID, each rewritten to channel outputFilter.
func (p *Pipeline) SendFromActions(channelID ChannelID, actions []Action, outputFilter uint8, d Device) {
	for i := range actions {
		if actions[i].ChannelID != channelID {
			continue
		}
		p.Send(actions[i].Event, outputFilter, d)
	}
}

// SendAllNotesOff sends the "all notes off" message on outputFilter.
func (p *Pipeline) SendAllNotesOff(outputFilter uint8, d Device) {
	p.Send(AllNotesOff(), outputFilter, d)
}

// PrepareInputBuffer clears the channel's render buffer and moves every
// queued inbound event into it. It runs once per block on the audio
// callback. Events that do not fit are dropped.
func (p *Pipeline) PrepareInputBuffer(shared *ChannelShared) *RenderBuffer {
	shared.Render.Clear()
	for {
		e, ok := shared.Inbound.Pop()
		if !ok {
			break
		}
		if !shared.Render.Add(e) {
			p.observer.MIDIDropped()
		}
	}
	return shared.Render
}

// EnqueueEvent queues e for the channel's next block. All internal traffic
// travels on channel 0, so the channel is flattened. It must be called by
// the channel's single producer and returns false when the queue is full.
func (p *Pipeline) EnqueueEvent(shared *ChannelShared, e Event) bool {
	e.Channel = 0
	if !shared.Inbound.Push(e) {
		p.observer.MIDIDropped()
		return false
	}
	return true
}
