package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Sink drives a Processor from the default PortAudio output stream.
type Sink struct {
	stream *portaudio.Stream
}

func NewSink(p Processor, outputs, sampleRate, bufferSize int) (*Sink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, outputs, float64(sampleRate), bufferSize, p.Process)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open stream: %w", err)
	}
	return &Sink{stream: stream}, nil
}

func (s *Sink) Start() error {
	return s.stream.Start()
}

func (s *Sink) Close() error {
	s.stream.Close()
	return portaudio.Terminate()
}
