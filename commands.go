package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrdg/loopcore/audio"
	"github.com/mrdg/loopcore/dub"
	"github.com/mrdg/loopcore/midi"
)

type command struct {
	name  string
	help  string
	run   func(*env, []dub.Node) (string, error)
	arity int // -n means len(args) must be >= n
}

var commands []command

func init() {
	commands = []command{
		{"channel", "channel <name>: add a channel", addChannel, 1},
		{"remove", "remove '<ids>: remove channels", removeChannels, 1},
		{"filter", "filter '<ids> <0-15>: set the output MIDI channel", setFilter, 2},
		{"arm", "arm '<ids> [on|off]: route MIDI input to channels", arm, -1},
		{"rec", "rec on|off: record input on armed channels", record, 1},
		{"note", "note <key> [velocity]: play a note on armed channels", playNote, -1},
		{"panic", "panic: send all notes off on every channel", allNotesOff, 0},
		{"clear", "clear '<ids>: delete recorded actions", clearActions, 1},
		{"play", "play: start the loop", play, 0},
		{"stop", "stop: stop the loop", stop, 0},
		{"rewind", "rewind: go back to the start of the loop", rewind, 0},
		{"rate", "rate <ms>: dispatcher interval", setRate, 1},
		{"monitor", "monitor: show outbound MIDI activity", showMonitor, 0},
		{"status", "status: show channels", status, 0},
		{"save", `save "<file>": save the patch`, save, 1},
		{"load", `load "<file>": load a patch`, load, 1},
		{"ports", "ports: list MIDI ports", ports, 0},
		{"help", "help: list commands", help, 0},
	}
}

func addChannel(env *env, args []dub.Node) (string, error) {
	var name string
	if err := readArgs(args, &name); err != nil {
		return "", err
	}
	id, err := env.dispatcher.AddChannel(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("channel %d", id), nil
}

// selectChannels returns the ids of the channels matched by expr.
func selectChannels(env *env, expr dub.MatchExpr) ([]midi.ChannelID, error) {
	var ids []int
	for _, ch := range env.dispatcher.Snapshot().Channels {
		ids = append(ids, int(ch.ID))
	}
	var out []midi.ChannelID
	for _, id := range expr.Select(ids) {
		out = append(out, midi.ChannelID(id))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no channel matches")
	}
	return out, nil
}

// forEach reads a match expression from args[0] and calls f for every
// matched channel.
func forEach(env *env, args []dub.Node, f func(midi.ChannelID) error) error {
	var expr dub.MatchExpr
	if err := readArgs(args[:1], &expr); err != nil {
		return err
	}
	ids, err := selectChannels(env, expr)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := f(id); err != nil {
			return fmt.Errorf("channel %d: %w", id, err)
		}
	}
	return nil
}

func removeChannels(env *env, args []dub.Node) (string, error) {
	return "", forEach(env, args, env.dispatcher.RemoveChannel)
}

func setFilter(env *env, args []dub.Node) (string, error) {
	var filter int
	if err := readArgs(args[1:], &filter); err != nil {
		return "", err
	}
	return "", forEach(env, args, func(id midi.ChannelID) error {
		return env.dispatcher.SetOutputFilter(id, filter)
	})
}

func arm(env *env, args []dub.Node) (string, error) {
	on := true
	if len(args) > 1 {
		if err := readArgs(args[1:], &on); err != nil {
			return "", err
		}
	}
	return "", forEach(env, args, func(id midi.ChannelID) error {
		return env.dispatcher.Arm(id, on)
	})
}

func record(env *env, args []dub.Node) (string, error) {
	var on bool
	if err := readArgs(args, &on); err != nil {
		return "", err
	}
	return "", env.dispatcher.Record(on)
}

func playNote(env *env, args []dub.Node) (string, error) {
	key, velocity := 0, 100
	var err error
	if len(args) == 1 {
		err = readArgs(args, &key)
	} else {
		err = readArgs(args, &key, &velocity)
	}
	if err != nil {
		return "", err
	}
	if key < 0 || key > 127 || velocity < 0 || velocity > midi.MaxVelocity {
		return "", fmt.Errorf("key and velocity must be in 0-127")
	}
	e := midi.NewEvent(midi.NoteOn, 0, uint8(key), uint8(velocity)).FixVelocityZero()
	return "", env.dispatcher.InjectMIDI(e)
}

func allNotesOff(env *env, _ []dub.Node) (string, error) {
	return "", env.dispatcher.AllNotesOff()
}

func clearActions(env *env, args []dub.Node) (string, error) {
	return "", forEach(env, args, env.dispatcher.ClearActions)
}

func play(env *env, _ []dub.Node) (string, error) {
	env.engine.Play()
	return "", nil
}

func stop(env *env, _ []dub.Node) (string, error) {
	env.engine.Stop()
	return "", nil
}

func rewind(env *env, _ []dub.Node) (string, error) {
	env.engine.Rewind()
	return "", nil
}

func setRate(env *env, args []dub.Node) (string, error) {
	var ms float64
	if err := readArgs(args, &ms); err != nil {
		return "", err
	}
	if ms <= 0 || ms > 1000 {
		return "", fmt.Errorf("rate out of range 0-1000ms: %v", ms)
	}
	env.dispatcher.SetRate(time.Duration(ms * float64(time.Millisecond)))
	return "", nil
}

func showMonitor(env *env, _ []dub.Node) (string, error) {
	if env.monitor == nil {
		return "", fmt.Errorf("no monitor")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d events sent", env.monitor.Activity())
	for _, msg := range env.monitor.Messages() {
		fmt.Fprintf(&b, "\n% X", msg)
	}
	return b.String(), nil
}

func status(env *env, _ []dub.Node) (string, error) {
	var b strings.Builder
	renderStatus(&b, env.dispatcher.Snapshot(), env.engine)
	return strings.TrimRight(b.String(), "\n"), nil
}

func save(env *env, args []dub.Node) (string, error) {
	var path string
	if err := readArgs(args, &path); err != nil {
		return "", err
	}
	if err := audio.SavePatch(path, audio.NewPatch(env.dispatcher.Snapshot())); err != nil {
		return "", err
	}
	return "saved " + path, nil
}

func load(env *env, args []dub.Node) (string, error) {
	var path string
	if err := readArgs(args, &path); err != nil {
		return "", err
	}
	p, err := audio.LoadPatch(path)
	if err != nil {
		return "", err
	}
	if err := env.dispatcher.LoadPatch(p); err != nil {
		return "", err
	}
	return fmt.Sprintf("loaded %d channels", len(p.Channels)), nil
}

func ports(*env, []dub.Node) (string, error) {
	ins, outs := midi.Ports()
	var b strings.Builder
	fmt.Fprintf(&b, "in:  %s\n", strings.Join(ins, ", "))
	fmt.Fprintf(&b, "out: %s", strings.Join(outs, ", "))
	return b.String(), nil
}

func help(*env, []dub.Node) (string, error) {
	var lines []string
	for _, cmd := range commands {
		lines = append(lines, cmd.help)
	}
	return strings.Join(lines, "\n"), nil
}
