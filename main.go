package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mrdg/loopcore/audio"
	"github.com/mrdg/loopcore/config"
	"github.com/mrdg/loopcore/logging"
	"github.com/mrdg/loopcore/metrics"
	"github.com/mrdg/loopcore/midi"
	"github.com/mrdg/loopcore/rcu"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	v := viper.New()
	var script string

	root := &cobra.Command{
		Use:          "loopcore",
		Short:        "Record and loop MIDI from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(v, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			settings, err := config.Load(v, path)
			if err != nil {
				return err
			}
			return run(cmd.Context(), settings, script)
		},
	}
	config.Flags(root.PersistentFlags())
	root.Flags().StringVar(&script, "run", "", "file of commands to run before the prompt")

	root.AddCommand(&cobra.Command{
		Use:   "ports",
		Short: "List MIDI ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer gomidi.CloseDriver()
			ins, outs := midi.Ports()
			fmt.Fprintf(cmd.OutOrStdout(), "in:  %s\nout: %s\n", strings.Join(ins, ", "), strings.Join(outs, ", "))
			return nil
		},
	})
	return root
}

type sink interface {
	Start() error
	Close() error
}

func openSink(s *config.Settings, p audio.Processor, log *slog.Logger) (sink, error) {
	switch s.Audio.Backend {
	case config.BackendPortAudio:
		return audio.NewSink(p, s.Audio.Outputs, s.Audio.SampleRate, s.Audio.BufferSize)
	case config.BackendMalgo:
		return audio.NewMalgoSink(p, s.Audio.Outputs, s.Audio.SampleRate, s.Audio.BufferSize, log)
	default:
		return nil, nil
	}
}

func run(ctx context.Context, s *config.Settings, script string) error {
	log, closer, err := logging.New(s.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(log)
	mainLog := logging.Module(log, "main")

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return err
	}

	monitor := midi.NewMonitor(s.MIDI.MonitorBytes)
	pipeline := midi.NewPipeline(midi.WithOnSend(monitor.Notify), midi.WithObserver(m))
	defer gomidi.CloseDriver()

	var device midi.Device = midi.DeviceFunc(func(midi.Event) error { return nil })
	if s.MIDI.Out != "" {
		port, err := midi.OpenOutPort(s.MIDI.Out,
			midi.WithQueueSize(s.MIDI.QueueSize),
			midi.WithFlushInterval(s.MIDI.FlushInterval),
			midi.WithPortLogger(log),
			midi.WithMonitor(monitor),
			midi.WithFlushObserver(m))
		if err != nil {
			return err
		}
		defer port.Close()
		device = port
		mainLog.Info("midi output open", "port", port.Name())
	}

	snap := rcu.New(audio.NewModel(s.LoopLength()),
		rcu.WithClone((*audio.Model).Clone),
		rcu.WithObserver[audio.Model](m))
	engine := audio.NewEngine(snap, pipeline, audio.WithDevice(device), audio.WithObserver(m))
	dispatcher := audio.NewDispatcher(engine,
		audio.WithRate(s.Dispatcher.Rate),
		audio.WithQueueSize(s.Dispatcher.QueueSize),
		audio.WithChannelQueue(s.MIDI.QueueSize),
		audio.WithBlockFrames(s.Audio.BufferSize),
		audio.WithLogger(log),
		audio.WithWorkerObserver(m))
	if err := dispatcher.Start(); err != nil {
		return err
	}
	defer dispatcher.Close()

	if s.MIDI.In != "" {
		dropped := rate.Sometimes{First: 1, Interval: 5 * time.Second}
		stop, err := midi.Listen(s.MIDI.In, func(e midi.Event) {
			if err := dispatcher.PumpMIDIEvent(e); err != nil {
				dropped.Do(func() { mainLog.Warn("midi input dropped", "error", err) })
			}
		})
		if err != nil {
			return err
		}
		defer stop()
	}

	out, err := openSink(s, engine, log)
	if err != nil {
		return err
	}
	if out != nil {
		if err := out.Start(); err != nil {
			out.Close()
			return fmt.Errorf("start audio: %w", err)
		}
		defer out.Close()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return err
	}
	env := &env{
		engine:     engine,
		dispatcher: dispatcher,
		monitor:    monitor,
		out:        rl.Stdout(),
	}
	if script != "" {
		data, err := os.ReadFile(script)
		if err != nil {
			rl.Close()
			return err
		}
		if err := env.runScript(string(data)); err != nil {
			rl.Close()
			return fmt.Errorf("%s: %w", script, err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if s.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(ctx, s.Metrics.Addr, log) })
	}
	g.Go(func() error {
		defer cancel()
		return repl(env, rl)
	})
	g.Go(func() error {
		<-ctx.Done()
		return rl.Close()
	})
	return g.Wait()
}
