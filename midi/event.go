// Package midi moves timestamped MIDI events between control goroutines and
// the audio callback, and dispatches outbound events to devices.
package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Channel voice message types, stored in the upper nibble of the status byte.
const (
	NoteOff         uint8 = 0x80
	NoteOn          uint8 = 0x90
	PolyPressure    uint8 = 0xA0
	ControlChange   uint8 = 0xB0
	ProgramChange   uint8 = 0xC0
	ChannelPressure uint8 = 0xD0
	PitchBend       uint8 = 0xE0
)

const (
	// AllNotesOffController is the controller number of the channel mode
	// message that releases every sounding note.
	AllNotesOffController uint8 = 0x7B

	MaxChannels = 16
	MaxVelocity = 127
)

// ChannelID identifies a channel of the model.
type ChannelID int

// Event is a channel voice message plus its position inside an audio block.
// It is copied by value between goroutines.
type Event struct {
	Status   uint8 // message type, upper nibble only
	Channel  uint8 // 0-15
	Note     uint8 // first data byte
	Velocity uint8 // second data byte
	Delta    int   // frame offset inside the block
}

// Action is an event recorded on a channel at a loop position.
type Action struct {
	ChannelID ChannelID
	Frame     int64
	Event     Event
}

// NewEvent returns a message of the given type. It panics if channel or
// velocity are out of range.
func NewEvent(status, channel, note, velocity uint8) Event {
	e := Event{Status: status & 0xF0, Note: note & 0x7F}
	return e.WithChannel(channel).WithVelocity(velocity)
}

// AllNotesOff returns the 3-byte "all notes off" message on channel 0.
func AllNotesOff() Event {
	return Event{Status: ControlChange, Note: AllNotesOffController}
}

// FromRaw unpacks an event from its 32 bit form (see Raw).
func FromRaw(raw uint32) Event {
	return Event{
		Status:   uint8((raw & 0xF0000000) >> 24),
		Channel:  uint8((raw & 0x0F000000) >> 24),
		Note:     uint8((raw & 0x00FF0000) >> 16),
		Velocity: uint8((raw & 0x0000FF00) >> 8),
	}
}

// FromBytes decodes a channel voice message. The second result is false for
// system messages, running status and truncated input.
func FromBytes(b []byte) (Event, bool) {
	if len(b) == 0 || b[0] < 0x80 || b[0] >= 0xF0 {
		return Event{}, false
	}
	e := Event{Status: b[0] & 0xF0, Channel: b[0] & 0x0F}
	if len(b) < e.Size() {
		return Event{}, false
	}
	e.Note = b[1] & 0x7F
	if e.Size() == 3 {
		e.Velocity = b[2] & 0x7F
	}
	return e, true
}

// FromMessage converts a message received from a gomidi port.
func FromMessage(msg gomidi.Message) (Event, bool) {
	var ch, key, vel uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel):
		return Event{Status: NoteOn, Channel: ch, Note: key, Velocity: vel}, true
	case msg.GetNoteOff(&ch, &key, &vel):
		return Event{Status: NoteOff, Channel: ch, Note: key, Velocity: vel}, true
	case msg.GetControlChange(&ch, &key, &vel):
		return Event{Status: ControlChange, Channel: ch, Note: key, Velocity: vel}, true
	}
	return FromBytes(msg.Bytes())
}

// Raw packs the event as status|channel in the top byte, then note and
// velocity. The delta is not part of the packed form.
func (e Event) Raw() uint32 {
	return uint32(e.Status)<<24 | uint32(e.Channel)<<24 | uint32(e.Note)<<16 | uint32(e.Velocity)<<8
}

// WithChannel returns a copy of e on channel c. It panics if c > 15.
func (e Event) WithChannel(c uint8) Event {
	if c >= MaxChannels {
		panic(fmt.Sprintf("midi: channel %d out of range", c))
	}
	e.Channel = c
	return e
}

// WithVelocity returns a copy of e with velocity v. It panics if v > 127.
func (e Event) WithVelocity(v uint8) Event {
	if v > MaxVelocity {
		panic(fmt.Sprintf("midi: velocity %d out of range", v))
	}
	e.Velocity = v
	return e
}

// WithDelta returns a copy of e at frame offset d.
func (e Event) WithDelta(d int) Event {
	e.Delta = d
	return e
}

// FixVelocityZero turns a note on with velocity 0 into a note off.
func (e Event) FixVelocityZero() Event {
	if e.Status == NoteOn && e.Velocity == 0 {
		e.Status = NoteOff
	}
	return e
}

// IsNoteOnOff reports whether e is a note on or note off.
func (e Event) IsNoteOnOff() bool {
	return e.Status == NoteOn || e.Status == NoteOff
}

// Size returns the length of the wire form in bytes.
func (e Event) Size() int {
	switch e.Status {
	case ProgramChange, ChannelPressure:
		return 2
	default:
		return 3
	}
}

// AppendBytes appends the wire form of e to dst.
func (e Event) AppendBytes(dst []byte) []byte {
	dst = append(dst, e.Status|e.Channel, e.Note)
	if e.Size() == 3 {
		dst = append(dst, e.Velocity)
	}
	return dst
}

// Message returns the wire form as a gomidi message. It allocates.
func (e Event) Message() gomidi.Message {
	return gomidi.Message(e.AppendBytes(make([]byte, 0, 3)))
}

func (e Event) String() string {
	return fmt.Sprintf("%02X %02X %02X ch=%d delta=%d", e.Status|e.Channel, e.Note, e.Velocity, e.Channel, e.Delta)
}
