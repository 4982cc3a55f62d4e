// Package audio runs the audio callback and the model it reads.
package audio

import (
	"sync/atomic"

	"github.com/mrdg/loopcore/midi"
	"github.com/mrdg/loopcore/rcu"
)

// Processor renders one block of non-interleaved output.
type Processor interface {
	Process(out [][]float32)
}

// Observer receives engine and dispatcher counters. BlockProcessed is
// called from the audio callback and must not block or allocate.
type Observer interface {
	BlockProcessed()
	EventDispatched(kind string)
	EventRejected(queue string)
}

type nopObserver struct{}

func (nopObserver) BlockProcessed()        {}
func (nopObserver) EventDispatched(string) {}
func (nopObserver) EventRejected(string)   {}

const defaultBlockActions = 256

// Engine is the audio callback. Each block it routes the queued input of
// every channel and plays back the actions recorded inside the block.
type Engine struct {
	model    *rcu.Snapshot[Model]
	pipeline *midi.Pipeline
	device   midi.Device
	observer Observer

	pos     atomic.Int64
	playing atomic.Bool
	rewind  atomic.Bool
	allOff  atomic.Bool

	scratch []midi.Action // only touched by Process
}

type EngineOption func(*Engine)

// WithDevice sets the device receiving outbound events.
func WithDevice(d midi.Device) EngineOption {
	return func(e *Engine) { e.device = d }
}

// WithObserver reports counters to o.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithBlockActions bounds the number of recorded actions played back per
// block.
func WithBlockActions(n int) EngineOption {
	return func(e *Engine) { e.scratch = make([]midi.Action, 0, n) }
}

func NewEngine(model *rcu.Snapshot[Model], pipeline *midi.Pipeline, opts ...EngineOption) *Engine {
	e := &Engine{
		model:    model,
		pipeline: pipeline,
		device:   midi.DeviceFunc(func(midi.Event) error { return nil }),
		observer: nopObserver{},
		scratch:  make([]midi.Action, 0, defaultBlockActions),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process renders one block. It is called by the audio backend and does
// not block or allocate.
func (e *Engine) Process(out [][]float32) {
	for i := range out {
		clear(out[i])
	}
	if len(out) == 0 {
		return
	}
	frames := len(out[0])

	l := e.model.Lock()
	defer l.Unlock()
	m := l.Get()

	if e.rewind.Swap(false) {
		e.pos.Store(0)
	}
	pos := e.pos.Load()
	if m.LoopFrames > 0 {
		// The loop may have been shortened since the last block.
		pos %= m.LoopFrames
	}
	playing := e.playing.Load() && m.LoopFrames > 0
	allOff := e.allOff.Swap(false)

	e.scratch = e.scratch[:0]
	if playing {
		e.scratch = m.actionsIn(pos, frames, e.scratch)
	}

	for i := range m.Channels {
		ch := &m.Channels[i]
		in := e.pipeline.PrepareInputBuffer(ch.Shared)
		if allOff {
			e.pipeline.SendAllNotesOff(ch.OutputFilter, e.device)
		}
		if ch.Armed {
			for _, te := range in.Events() {
				e.pipeline.Send(te.Event.WithDelta(te.Frame), ch.OutputFilter, e.device)
			}
		}
		e.pipeline.SendFromActions(ch.ID, e.scratch, ch.OutputFilter, e.device)
	}

	if playing {
		e.pos.Store((pos + int64(frames)) % m.LoopFrames)
	}
	e.observer.BlockProcessed()
}

// Play starts the loop.
func (e *Engine) Play() { e.playing.Store(true) }

// Stop halts the loop and silences every channel on the next block.
func (e *Engine) Stop() {
	e.playing.Store(false)
	e.allOff.Store(true)
}

// Rewind moves the loop position to the start on the next block.
func (e *Engine) Rewind() { e.rewind.Store(true) }

// Playing reports whether the loop is running.
func (e *Engine) Playing() bool { return e.playing.Load() }

// Position returns the current loop position in frames.
func (e *Engine) Position() int64 { return e.pos.Load() }

// RequestAllNotesOff asks the next block to send "all notes off" on every
// channel.
func (e *Engine) RequestAllNotesOff() { e.allOff.Store(true) }

// Model returns the snapshot the engine reads.
func (e *Engine) Model() *rcu.Snapshot[Model] { return e.model }
