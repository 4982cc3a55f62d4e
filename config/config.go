// Package config loads runtime settings from defaults, a YAML file, the
// environment and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mrdg/loopcore/logging"
)

const envPrefix = "LOOPCORE"

// Audio backends.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendNone      = "none"
)

type Settings struct {
	Audio      Audio          `mapstructure:"audio"`
	MIDI       MIDI           `mapstructure:"midi"`
	Dispatcher Dispatcher     `mapstructure:"dispatcher"`
	Metrics    Metrics        `mapstructure:"metrics"`
	Log        logging.Config `mapstructure:"log"`
}

type Audio struct {
	Backend    string `mapstructure:"backend"`
	SampleRate int    `mapstructure:"sample_rate"`
	BufferSize int    `mapstructure:"buffer_size"`
	Outputs    int    `mapstructure:"outputs"`
	LoopFrames int64  `mapstructure:"loop_frames"` // 0 picks four seconds
}

type MIDI struct {
	In            string        `mapstructure:"in"`
	Out           string        `mapstructure:"out"`
	QueueSize     int           `mapstructure:"queue_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MonitorBytes  int           `mapstructure:"monitor_bytes"`
}

type Dispatcher struct {
	Rate      time.Duration `mapstructure:"rate"`
	QueueSize int           `mapstructure:"queue_size"`
}

type Metrics struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", BackendPortAudio)
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.buffer_size", 256)
	v.SetDefault("audio.outputs", 2)
	v.SetDefault("audio.loop_frames", 0)

	v.SetDefault("midi.in", "")
	v.SetDefault("midi.out", "")
	v.SetDefault("midi.queue_size", 1024)
	v.SetDefault("midi.flush_interval", time.Millisecond)
	v.SetDefault("midi.monitor_bytes", 4096)

	v.SetDefault("dispatcher.rate", 5*time.Millisecond)
	v.SetDefault("dispatcher.queue_size", 2048)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Flags registers the command line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ./loopcore.yaml)")
	fs.String("backend", BackendPortAudio, "audio backend: portaudio, malgo or none")
	fs.Int("sample-rate", 44100, "audio sample rate")
	fs.Int("buffer-size", 256, "frames per audio block")
	fs.String("midi-in", "", "MIDI input port name")
	fs.String("midi-out", "", "MIDI output port name")
	fs.String("metrics-addr", "", "address serving /metrics, empty disables")
	fs.String("log-level", "warn", "log level")
}

var flagKeys = map[string]string{
	"backend":      "audio.backend",
	"sample-rate":  "audio.sample_rate",
	"buffer-size":  "audio.buffer_size",
	"midi-in":      "midi.in",
	"midi-out":     "midi.out",
	"metrics-addr": "metrics.addr",
	"log-level":    "log.level",
}

// BindFlags makes the flags registered by Flags override their keys on v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads settings into v. If path is empty, loopcore.yaml is looked up
// in the working directory and a missing file is not an error.
func Load(v *viper.Viper, path string) (*Settings, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("loopcore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	switch s.Audio.Backend {
	case BackendPortAudio, BackendMalgo, BackendNone:
	default:
		return fmt.Errorf("config: unknown audio backend %q", s.Audio.Backend)
	}
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", s.Audio.SampleRate)
	}
	if s.Audio.BufferSize <= 0 {
		return fmt.Errorf("config: buffer_size must be positive, got %d", s.Audio.BufferSize)
	}
	if s.Audio.Outputs <= 0 {
		return fmt.Errorf("config: outputs must be positive, got %d", s.Audio.Outputs)
	}
	if s.Audio.LoopFrames < 0 {
		return fmt.Errorf("config: loop_frames must not be negative, got %d", s.Audio.LoopFrames)
	}
	if s.MIDI.QueueSize < 2 || s.Dispatcher.QueueSize < 2 {
		return errors.New("config: queue sizes must be at least 2")
	}
	if s.MIDI.FlushInterval <= 0 || s.Dispatcher.Rate <= 0 {
		return errors.New("config: intervals must be positive")
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoopLength returns the loop length in frames.
func (s *Settings) LoopLength() int64 {
	if s.Audio.LoopFrames > 0 {
		return s.Audio.LoopFrames
	}
	return int64(s.Audio.SampleRate) * 4
}
