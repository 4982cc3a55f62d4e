package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mrdg/loopcore/midi"
)

const patchVersion = 1

// Patch is the stored form of a model.
type Patch struct {
	Version    int            `yaml:"version"`
	LoopFrames int64          `yaml:"loop_frames"`
	Channels   []PatchChannel `yaml:"channels"`
	Actions    []PatchAction  `yaml:"actions,omitempty"`
}

type PatchChannel struct {
	ID           int    `yaml:"id"`
	Name         string `yaml:"name"`
	OutputFilter uint8  `yaml:"output_filter"`
	Armed        bool   `yaml:"armed"`
}

type PatchAction struct {
	Channel int    `yaml:"channel"`
	Frame   int64  `yaml:"frame"`
	Event   uint32 `yaml:"event"` // packed as by midi.Event.Raw
}

// NewPatch captures m.
func NewPatch(m *Model) *Patch {
	p := &Patch{Version: patchVersion, LoopFrames: m.LoopFrames}
	for _, ch := range m.Channels {
		p.Channels = append(p.Channels, PatchChannel{
			ID:           int(ch.ID),
			Name:         ch.Name,
			OutputFilter: ch.OutputFilter,
			Armed:        ch.Armed,
		})
	}
	for _, a := range m.Actions {
		p.Actions = append(p.Actions, PatchAction{
			Channel: int(a.ChannelID),
			Frame:   a.Frame,
			Event:   a.Event.Raw(),
		})
	}
	return p
}

// Validate reports the first inconsistency in p.
func (p *Patch) Validate() error {
	if p.Version != patchVersion {
		return fmt.Errorf("patch: unsupported version %d", p.Version)
	}
	if p.LoopFrames < 0 {
		return errors.New("patch: negative loop length")
	}
	ids := make(map[int]bool, len(p.Channels))
	for _, ch := range p.Channels {
		if ch.ID <= 0 {
			return fmt.Errorf("patch: invalid channel id %d", ch.ID)
		}
		if ids[ch.ID] {
			return fmt.Errorf("patch: duplicate channel id %d", ch.ID)
		}
		if ch.OutputFilter >= midi.MaxChannels {
			return fmt.Errorf("patch: channel %d: output filter %d out of range", ch.ID, ch.OutputFilter)
		}
		ids[ch.ID] = true
	}
	for i, a := range p.Actions {
		if !ids[a.Channel] {
			return fmt.Errorf("patch: action %d: %w %d", i, ErrUnknownChannel, a.Channel)
		}
		if a.Frame < 0 || (p.LoopFrames > 0 && a.Frame >= p.LoopFrames) {
			return fmt.Errorf("patch: action %d: frame %d outside the loop", i, a.Frame)
		}
		if st := midi.FromRaw(a.Event).Status; st < midi.NoteOff || st > midi.PitchBend {
			return fmt.Errorf("patch: action %d: invalid event %08X", i, a.Event)
		}
	}
	return nil
}

// WritePatch encodes p as YAML.
func WritePatch(w io.Writer, p *Patch) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	return enc.Close()
}

// ReadPatch decodes and validates a YAML patch. Unknown keys are errors.
func ReadPatch(r io.Reader) (*Patch, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Patch
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// SavePatch writes p to path.
func SavePatch(path string, p *Patch) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return WritePatch(f, p)
}

// LoadPatch reads a patch from path.
func LoadPatch(path string) (*Patch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadPatch(f)
}
