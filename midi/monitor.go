package midi

import (
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// Monitor tracks outbound MIDI activity. Notify is cheap enough to install
// as a pipeline's post-send callback; Record keeps a bounded log of the
// bytes delivered to ports, evicting the oldest messages when full.
type Monitor struct {
	activity atomic.Uint64

	mu  sync.Mutex
	log *ringbuffer.RingBuffer
}

// NewMonitor returns a monitor keeping up to size bytes of message log.
func NewMonitor(size int) *Monitor {
	return &Monitor{log: ringbuffer.New(size)}
}

// Notify counts one outbound send.
func (m *Monitor) Notify() {
	m.activity.Add(1)
}

// Activity returns the number of sends counted so far.
func (m *Monitor) Activity() uint64 {
	return m.activity.Load()
}

// Record appends msg to the log. Each entry is stored length-prefixed. If
// the log is ever found out of step with its prefixes it is emptied.
func (m *Monitor) Record(msg []byte) {
	need := len(msg) + 1
	if len(msg) == 0 || len(msg) > 0xFF || need > m.log.Capacity() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.log.Free() < need {
		if !m.dropOldest() {
			m.log.Reset()
		}
	}
	if !m.write(msg) {
		m.log.Reset()
	}
}

func (m *Monitor) write(msg []byte) bool {
	if n, err := m.log.Write([]byte{byte(len(msg))}); err != nil || n != 1 {
		return false
	}
	n, err := m.log.Write(msg)
	return err == nil && n == len(msg)
}

// dropOldest discards the oldest entry and reports whether a whole entry
// was read.
func (m *Monitor) dropOldest() bool {
	var n [1]byte
	if got, err := m.log.Read(n[:]); err != nil || got != 1 {
		return false
	}
	var skip [0xFF]byte
	got, err := m.log.Read(skip[:n[0]])
	return err == nil && got == int(n[0])
}

// Messages drains the log, oldest first.
func (m *Monitor) Messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for m.log.Length() > 0 {
		var n [1]byte
		if got, err := m.log.Read(n[:]); err != nil || got != 1 {
			m.log.Reset()
			break
		}
		msg := make([]byte, n[0])
		if got, err := m.log.Read(msg); err != nil || got != len(msg) {
			m.log.Reset()
			break
		}
		out = append(out, msg)
	}
	return out
}
