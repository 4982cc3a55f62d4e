package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/mrdg/loopcore/logging"
)

// MalgoSink drives a Processor from a miniaudio playback device. miniaudio
// delivers interleaved 32 bit float frames, so each period is rendered in
// blocks of at most bufferSize frames and interleaved into the device
// buffer.
type MalgoSink struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	proc   Processor
	block  [][]float32
}

func NewMalgoSink(p Processor, outputs, sampleRate, bufferSize int, log *slog.Logger) (*MalgoSink, error) {
	log = logging.Module(log, "malgo")
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug(message)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &MalgoSink{ctx: ctx, proc: p, block: make([][]float32, outputs)}
	for i := range s.block {
		s.block[i] = make([]float32, bufferSize)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(outputs)
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(bufferSize)

	s.device, err = malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.render})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	return s, nil
}

func (s *MalgoSink) render(out, _ []byte, frames uint32) {
	interleave(s.proc, s.block, out, int(frames))
}

// interleave fills out with frames frames rendered by p, using block as
// the non-interleaved scratch buffer.
func interleave(p Processor, block [][]float32, out []byte, frames int) {
	outputs := len(block)
	for done := 0; done < frames; {
		n := min(frames-done, len(block[0]))
		for i := range block {
			block[i] = block[i][:n]
		}
		p.Process(block)
		for f := range n {
			for c := range outputs {
				off := ((done+f)*outputs + c) * 4
				binary.LittleEndian.PutUint32(out[off:], math.Float32bits(block[c][f]))
			}
		}
		done += n
		for i := range block {
			block[i] = block[i][:cap(block[i])]
		}
	}
}

func (s *MalgoSink) Start() error {
	return s.device.Start()
}

func (s *MalgoSink) Close() error {
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		return err
	}
	s.ctx.Free()
	return nil
}
