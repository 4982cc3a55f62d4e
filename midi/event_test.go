package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
)

func TestRawRoundTrip(t *testing.T) {
	e := NewEvent(NoteOn, 3, 60, 100)
	assert.Equal(t, uint32(0x933C6400), e.Raw())
	assert.Equal(t, e, FromRaw(e.Raw()))
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		in   []byte
		want Event
		ok   bool
	}{
		{[]byte{0x91, 0x40, 0x7F}, Event{Status: NoteOn, Channel: 1, Note: 0x40, Velocity: 0x7F}, true},
		{[]byte{0xB0, 0x7B, 0x00}, AllNotesOff(), true},
		{[]byte{0xC2, 0x05}, Event{Status: ProgramChange, Channel: 2, Note: 5}, true},
		{[]byte{0x90, 0x40}, Event{}, false},
		{[]byte{0xF8}, Event{}, false},
		{[]byte{0x40, 0x40}, Event{}, false},
		{nil, Event{}, false},
	}
	for _, test := range tests {
		got, ok := FromBytes(test.in)
		assert.Equal(t, test.ok, ok, "% X", test.in)
		assert.Equal(t, test.want, got, "% X", test.in)
	}
}

func TestFromMessage(t *testing.T) {
	e, ok := FromMessage(gomidi.NoteOn(2, 64, 90))
	require.True(t, ok)
	assert.Equal(t, Event{Status: NoteOn, Channel: 2, Note: 64, Velocity: 90}, e)

	e, ok = FromMessage(gomidi.ControlChange(0, 7, 100))
	require.True(t, ok)
	assert.Equal(t, Event{Status: ControlChange, Note: 7, Velocity: 100}, e)

	e, ok = FromMessage(gomidi.ProgramChange(4, 9))
	require.True(t, ok)
	assert.Equal(t, Event{Status: ProgramChange, Channel: 4, Note: 9}, e)
}

func TestAppendBytes(t *testing.T) {
	assert.Equal(t, []byte{0xB5, 0x7B, 0x00}, AllNotesOff().WithChannel(5).AppendBytes(nil))
	assert.Equal(t, []byte{0xC1, 0x09}, Event{Status: ProgramChange, Channel: 1, Note: 9}.AppendBytes(nil))
	assert.Equal(t, gomidi.Message{0x90, 0x3C, 0x40}, NewEvent(NoteOn, 0, 60, 64).Message())
}

func TestFixVelocityZero(t *testing.T) {
	e := NewEvent(NoteOn, 0, 60, 0).FixVelocityZero()
	assert.Equal(t, NoteOff, e.Status)
	assert.True(t, e.IsNoteOnOff())

	cc := Event{Status: ControlChange, Note: 1}
	assert.Equal(t, cc, cc.FixVelocityZero())
	assert.False(t, cc.IsNoteOnOff())

	on := NewEvent(NoteOn, 0, 60, 1)
	assert.Equal(t, on, on.FixVelocityZero())
}

func TestWithChannelOutOfRange(t *testing.T) {
	assert.Panics(t, func() { AllNotesOff().WithChannel(16) })
	assert.Panics(t, func() { NewEvent(NoteOn, 0, 60, 128) })
	assert.NotPanics(t, func() { AllNotesOff().WithChannel(15) })
}
