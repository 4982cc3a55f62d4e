package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mrdg/loopcore/audio"
)

func renderStatus(w io.Writer, m *audio.Model, e *audio.Engine) {
	transport := colorize("stopped", colorYellow)
	if e.Playing() {
		transport = colorize("playing", colorGreen)
	}
	if m.Recording {
		transport += " " + colorize("● rec", colorRed)
	}
	fmt.Fprintf(w, "%s  %d/%d frames\n", transport, e.Position(), m.LoopFrames)

	if len(m.Channels) == 0 {
		fmt.Fprintln(w, "no channels")
		return
	}

	maxNameLen := len("name")
	for _, ch := range m.Channels {
		maxNameLen = max(maxNameLen, len(ch.Name))
	}

	header := fmt.Sprintf("%4s  %s  %6s  %5s  %7s", "id", pad("name", maxNameLen), "filter", "armed", "actions")
	fmt.Fprintln(w, colorize(header, colorMagenta))
	for _, ch := range m.Channels {
		armed := "  -  "
		if ch.Armed {
			armed = colorize("  ●  ", colorRed)
		}
		fmt.Fprintf(w, "%s  %s  %6d  %s  %7d\n",
			colorize(fmt.Sprintf("%4d", ch.ID), colorGreen),
			colorize(pad(ch.Name, maxNameLen), colorBlue),
			ch.OutputFilter,
			armed,
			m.ChannelActions(ch.ID))
	}
}

func pad(s string, n int) string {
	if len(s) < n {
		s += strings.Repeat(" ", n-len(s))
	}
	return s
}

const (
	colorBlack = iota + 30
	colorRed
	colorGreen
	colorYellow
	colorBlue
	colorMagenta
)

func colorize(text string, color int) string {
	return fmt.Sprintf("\033[%dm%s\033[0m", color, text)
}
