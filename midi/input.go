package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// Listen forwards every channel voice message arriving on the input port
// whose name contains name to sink. Note ons with velocity 0 are delivered
// as note offs. The returned function stops listening.
func Listen(name string, sink func(Event)) (stop func(), err error) {
	in, err := gomidi.FindInPort(name)
	if err != nil {
		return nil, fmt.Errorf("find input port %q: %w", name, err)
	}
	stop, err = gomidi.ListenTo(in, func(msg gomidi.Message, _ int32) {
		if e, ok := FromMessage(msg); ok {
			sink(e.FixVelocityZero())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", in.String(), err)
	}
	return stop, nil
}

// Ports returns the names of the available input and output ports.
func Ports() (ins, outs []string) {
	for _, in := range gomidi.GetInPorts() {
		ins = append(ins, in.String())
	}
	for _, out := range gomidi.GetOutPorts() {
		outs = append(outs, out.String())
	}
	return ins, outs
}
