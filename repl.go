package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/mrdg/loopcore/audio"
	"github.com/mrdg/loopcore/dub"
	"github.com/mrdg/loopcore/midi"
)

// env is what commands operate on. Commands run on the REPL goroutine,
// which is the only producer of UI events.
type env struct {
	engine     *audio.Engine
	dispatcher *audio.Dispatcher
	monitor    *midi.Monitor
	out        io.Writer
}

func (e *env) eval(input string) (string, error) {
	command, err := dub.Parse(input)
	if err != nil {
		return "", err
	}
	name := string(command.Name)
	for _, cmd := range commands {
		if name != cmd.name {
			continue
		}
		if cmd.arity < 0 {
			arity := -cmd.arity
			if len(command.Args) < arity {
				return "", fmt.Errorf("%s: wrong number of arguments: need at least %v, got %v",
					cmd.name, arity, len(command.Args))
			}
		} else if len(command.Args) != cmd.arity {
			return "", fmt.Errorf("%s: wrong number of arguments: want %v, got %v",
				cmd.name, cmd.arity, len(command.Args))
		}
		result, err := cmd.run(e, command.Args)
		if err != nil {
			return result, fmt.Errorf("%s error: %w", cmd.name, err)
		}
		return result, nil
	}
	return "", fmt.Errorf("unknown command: %s", name)
}

// runScript evaluates every non-empty line of script and stops at the
// first error.
func (e *env) runScript(script string) error {
	for i, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := e.eval(line); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func repl(env *env, rl *readline.Instance) error {
	for {
		line, err := rl.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(env.out, err)
			continue
		}
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		if result, err := env.eval(line); err != nil {
			fmt.Fprintln(env.out, colorize(err.Error(), colorRed))
		} else if result != "" {
			fmt.Fprintln(env.out, result)
		}
	}
}

func readArgs(args []dub.Node, slots ...any) error {
	if len(args) != len(slots) {
		return errors.New("not enough arguments")
	}
	for n, arg := range args {
		dest := slots[n]
		switch p := dest.(type) {
		case *string:
			switch s := arg.(type) {
			case dub.String:
				*p = string(s)
			case dub.Identifier:
				*p = string(s)
			default:
				return fmt.Errorf("argument error: expected a string or identifier")
			}
		case *float64:
			switch v := arg.(type) {
			case dub.Float:
				*p = float64(v)
			case dub.Int:
				*p = float64(v)
			default:
				return fmt.Errorf("argument error: expected a number")
			}
		case *int:
			n, ok := arg.(dub.Int)
			if !ok {
				return fmt.Errorf("argument error: expected an integer")
			}
			*p = int(n)
		case *bool:
			b, err := readBool(arg)
			if err != nil {
				return err
			}
			*p = b
		case *dub.MatchExpr:
			m, ok := arg.(dub.MatchExpr)
			if !ok {
				return fmt.Errorf("argument error: expected a channel match like '1,3 or '*")
			}
			*p = m
		default:
			panic("readArgs: unhandled destination type: " + fmt.Sprint(p))
		}
	}
	return nil
}

func readBool(arg dub.Node) (bool, error) {
	switch v := arg.(type) {
	case dub.Identifier:
		switch v {
		case "on", "true", "yes":
			return true, nil
		case "off", "false", "no":
			return false, nil
		}
	case dub.Int:
		return v != 0, nil
	}
	return false, fmt.Errorf("argument error: expected on or off")
}
