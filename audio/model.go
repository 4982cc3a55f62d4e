package audio

import (
	"cmp"
	"slices"

	"github.com/mrdg/loopcore/midi"
)

// Channel is a MIDI channel of the model. Shared is allocated once per
// channel and carried unchanged across model versions.
type Channel struct {
	ID           midi.ChannelID
	Name         string
	OutputFilter uint8
	Armed        bool
	Shared       *midi.ChannelShared
}

// Model is the state read by the audio callback. Published versions are
// immutable; the dispatcher changes a clone and swaps it in.
type Model struct {
	Channels   []Channel
	Actions    []midi.Action // sorted by frame, ties in insertion order
	Recording  bool
	LoopFrames int64
}

func NewModel(loopFrames int64) *Model {
	return &Model{LoopFrames: loopFrames}
}

// Clone copies the channel and action lists so the copy can be changed
// without affecting readers of m.
func (m *Model) Clone() *Model {
	c := *m
	c.Channels = slices.Clone(m.Channels)
	c.Actions = slices.Clone(m.Actions)
	return &c
}

// Channel returns the channel with the given id, or nil.
func (m *Model) Channel(id midi.ChannelID) *Channel {
	for i := range m.Channels {
		if m.Channels[i].ID == id {
			return &m.Channels[i]
		}
	}
	return nil
}

// ChannelActions returns the number of actions recorded on id.
func (m *Model) ChannelActions(id midi.ChannelID) int {
	n := 0
	for i := range m.Actions {
		if m.Actions[i].ChannelID == id {
			n++
		}
	}
	return n
}

func (m *Model) removeChannel(id midi.ChannelID) bool {
	n := len(m.Channels)
	m.Channels = slices.DeleteFunc(m.Channels, func(c Channel) bool { return c.ID == id })
	m.removeActions(id)
	return len(m.Channels) != n
}

func (m *Model) addAction(a midi.Action) {
	if m.LoopFrames > 0 {
		a.Frame %= m.LoopFrames
	}
	i, _ := slices.BinarySearchFunc(m.Actions, a.Frame+1, func(x midi.Action, frame int64) int {
		return cmp.Compare(x.Frame, frame)
	})
	m.Actions = slices.Insert(m.Actions, i, a)
}

func (m *Model) removeActions(id midi.ChannelID) {
	m.Actions = slices.DeleteFunc(m.Actions, func(a midi.Action) bool { return a.ChannelID == id })
}

// actionsIn appends to dst the actions inside the block that starts at
// loop position pos, with each event's delta set to its offset in the
// block. A block crossing the end of the loop continues at its start. It
// stops appending when dst is full.
func (m *Model) actionsIn(pos int64, frames int, dst []midi.Action) []midi.Action {
	end := pos + int64(frames)
	if end <= m.LoopFrames {
		return m.appendActions(dst, pos, end, -pos)
	}
	dst = m.appendActions(dst, pos, m.LoopFrames, -pos)
	return m.appendActions(dst, 0, end-m.LoopFrames, m.LoopFrames-pos)
}

func (m *Model) appendActions(dst []midi.Action, from, to, shift int64) []midi.Action {
	for _, a := range m.Actions {
		if a.Frame < from || a.Frame >= to {
			continue
		}
		if len(dst) == cap(dst) {
			break
		}
		a.Event.Delta = int(a.Frame + shift)
		dst = append(dst, a)
	}
	return dst
}
