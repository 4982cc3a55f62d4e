package midi

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
)

type fakePort struct {
	mu   sync.Mutex
	msgs []gomidi.Message
	fail bool
}

func (p *fakePort) send(msg gomidi.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("port closed")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePort) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestPortDeviceFlushes(t *testing.T) {
	var port fakePort
	mon := NewMonitor(64)
	d := NewPortDevice("fake", port.send, WithFlushInterval(time.Millisecond), WithMonitor(mon))
	require.NoError(t, d.Start())
	defer d.Close()

	require.NoError(t, d.Send(NewEvent(NoteOn, 1, 60, 100)))
	require.NoError(t, d.Send(AllNotesOff()))

	assert.Eventually(t, func() bool { return port.len() == 2 }, time.Second, time.Millisecond)
	port.mu.Lock()
	assert.Equal(t, gomidi.Message{0x91, 0x3C, 0x64}, port.msgs[0])
	assert.Equal(t, gomidi.Message{0xB0, 0x7B, 0x00}, port.msgs[1])
	port.mu.Unlock()

	var logged [][]byte
	require.Eventually(t, func() bool {
		logged = append(logged, mon.Messages()...)
		return len(logged) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0x91, 0x3C, 0x64}, logged[0])
}

func TestPortDeviceCloseDrains(t *testing.T) {
	var port fakePort
	d := NewPortDevice("fake", port.send, WithFlushInterval(time.Hour))
	require.NoError(t, d.Send(NewEvent(NoteOn, 0, 60, 1)))
	require.NoError(t, d.Send(NewEvent(NoteOff, 0, 60, 0)))
	require.NoError(t, d.Close())
	assert.Equal(t, 2, port.len())
}

func TestPortDeviceQueueFull(t *testing.T) {
	var port fakePort
	d := NewPortDevice("fake", port.send, WithQueueSize(4))
	for range 3 {
		require.NoError(t, d.Send(AllNotesOff()))
	}
	assert.ErrorIs(t, d.Send(AllNotesOff()), ErrQueueFull)
	assert.Equal(t, uint64(1), d.Dropped())
	require.NoError(t, d.Close())
	assert.Equal(t, 3, port.len())
}

func TestPortDeviceSendFailure(t *testing.T) {
	port := fakePort{fail: true}
	mon := NewMonitor(64)
	d := NewPortDevice("fake", port.send, WithMonitor(mon))
	require.NoError(t, d.Send(AllNotesOff()))
	require.NoError(t, d.Send(AllNotesOff()))
	require.NoError(t, d.Close())
	assert.Equal(t, uint64(2), d.Failed())
	assert.Empty(t, mon.Messages())
}
