package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, BackendPortAudio, s.Audio.Backend)
	assert.Equal(t, 44100, s.Audio.SampleRate)
	assert.Equal(t, 256, s.Audio.BufferSize)
	assert.Equal(t, 5*time.Millisecond, s.Dispatcher.Rate)
	assert.Equal(t, time.Millisecond, s.MIDI.FlushInterval)
	assert.Equal(t, "warn", s.Log.Level)
	assert.Equal(t, int64(44100*4), s.LoopLength())
}

func TestFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	data := []byte(`
audio:
  backend: malgo
  buffer_size: 128
  loop_frames: 96000
dispatcher:
  rate: 2ms
log:
  level: debug
  format: json
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("LOOPCORE_MIDI_OUT", "IAC Driver")

	s, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, BackendMalgo, s.Audio.Backend)
	assert.Equal(t, 128, s.Audio.BufferSize)
	assert.Equal(t, int64(96000), s.LoopLength())
	assert.Equal(t, 2*time.Millisecond, s.Dispatcher.Rate)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, "IAC Driver", s.MIDI.Out)
}

func TestFlagsOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--backend=none", "--buffer-size=64"}))

	v := viper.New()
	require.NoError(t, BindFlags(v, fs))
	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, s.Audio.Backend)
	assert.Equal(t, 64, s.Audio.BufferSize)
	assert.Equal(t, 44100, s.Audio.SampleRate)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Settings {
		t.Chdir(t.TempDir())
		s, err := Load(viper.New(), "")
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"backend", func(s *Settings) { s.Audio.Backend = "jack" }},
		{"sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }},
		{"buffer size", func(s *Settings) { s.Audio.BufferSize = -1 }},
		{"queue size", func(s *Settings) { s.MIDI.QueueSize = 1 }},
		{"rate", func(s *Settings) { s.Dispatcher.Rate = 0 }},
		{"log level", func(s *Settings) { s.Log.Level = "verbose" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := valid(t)
			test.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}
