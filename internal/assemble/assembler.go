// Package assemble converts an ordered script entry list, with each line
// entry's synthesized audio attached, into one linear chapter track.
package assemble

import (
	"errors"
	"fmt"

	"github.com/lingolou/audiobook-service/internal/script"
	"github.com/lingolou/audiobook-service/internal/wav"
)

// Silence defaults by entry kind, applied when the entry carries no explicit
// duration. These mirror the pacing the product shipped with and are
// configurable, not invariants.
const (
	DefaultSceneSeconds       = 1.0
	DefaultSFXSeconds         = 0.3
	DefaultPerformanceSeconds = 0.5
	DefaultMixHeadroom        = 0.7
)

// ErrMissingClip indicates a line entry reached assembly without synthesized
// audio; that is a sequencing bug in the caller, not a script problem.
var ErrMissingClip = errors.New("no synthesized audio for line entry")

// Segment is one timed unit of chapter audio: a speech clip, a generated
// silence, or a mixed overlay of group voices. Segments are produced in
// entry order and consumed exactly once.
type Segment struct {
	PCM     []byte
	Seconds float64
	Silent  bool
}

// Track is the assembled chapter audio before encoding. An empty track (zero
// segments, zero duration) is a valid result, not an error.
type Track struct {
	PCM      []byte
	Seconds  float64
	Segments int
	Format   wav.Format
}

// Options tune the assembler's silence defaults and group-mix gain. Zero
// values fall back to the package defaults.
type Options struct {
	SceneSeconds       float64
	SFXSeconds         float64
	PerformanceSeconds float64
	MixHeadroom        float64
}

// Assembler builds chapter tracks in a fixed PCM format.
type Assembler struct {
	format             wav.Format
	sceneSeconds       float64
	sfxSeconds         float64
	performanceSeconds float64
	mixHeadroom        float64
}

// New creates an assembler for the given PCM format.
func New(format wav.Format, opts Options) *Assembler {
	if opts.SceneSeconds <= 0 {
		opts.SceneSeconds = DefaultSceneSeconds
	}

	if opts.SFXSeconds <= 0 {
		opts.SFXSeconds = DefaultSFXSeconds
	}

	if opts.PerformanceSeconds <= 0 {
		opts.PerformanceSeconds = DefaultPerformanceSeconds
	}

	if opts.MixHeadroom <= 0 {
		opts.MixHeadroom = DefaultMixHeadroom
	}

	return &Assembler{
		format:             format,
		sceneSeconds:       opts.SceneSeconds,
		sfxSeconds:         opts.SFXSeconds,
		performanceSeconds: opts.PerformanceSeconds,
		mixHeadroom:        opts.MixHeadroom,
	}
}

// Assemble walks the entries strictly in order and concatenates one segment
// per audio-bearing entry. clips maps an entry index to the synthesized PCM
// buffers of that line's members (one for an individual speaker, one per
// member for a group alias). Metadata-only entries contribute nothing; no
// implicit gaps are inserted between segments.
func (a *Assembler) Assemble(entries []script.Entry, clips map[int][][]byte) (*Track, error) {
	track := &Track{Format: a.format}

	for index, entry := range entries {
		segment, err := a.segmentFor(index, entry, clips)
		if err != nil {
			return nil, err
		}

		if segment == nil {
			continue
		}

		track.PCM = append(track.PCM, segment.PCM...)
		track.Seconds += segment.Seconds
		track.Segments++
	}

	return track, nil
}

func (a *Assembler) segmentFor(
	index int,
	entry script.Entry,
	clips map[int][][]byte,
) (*Segment, error) {
	switch entry.Kind {
	case script.KindLine:
		return a.lineSegment(index, entry, clips)
	case script.KindPause:
		return a.silenceSegment(entry.Seconds), nil
	case script.KindScene:
		return a.silenceSegment(a.silenceFor(entry, a.sceneSeconds)), nil
	case script.KindSFX:
		return a.silenceSegment(a.silenceFor(entry, a.sfxSeconds)), nil
	case script.KindPerformance:
		return a.silenceSegment(a.silenceFor(entry, a.performanceSeconds)), nil
	case script.KindBG, script.KindMusic, script.KindEnd, script.KindUnknown:
		// Narrative metadata only; no audio contribution.
		return nil, nil
	default:
		return nil, nil
	}
}

// lineSegment emits one speech segment. A single member passes through
// unchanged; multiple members overlay into the concurrent-chatter mix whose
// duration is the longest member's.
func (a *Assembler) lineSegment(
	index int,
	entry script.Entry,
	clips map[int][][]byte,
) (*Segment, error) {
	members := clips[index]
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: entry %d speaker %q", ErrMissingClip, index, entry.Speaker)
	}

	mixed, err := wav.Mix(members, a.mixHeadroom)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", index, err)
	}

	return &Segment{
		PCM:     mixed,
		Seconds: a.format.Duration(len(mixed)),
		Silent:  false,
	}, nil
}

func (a *Assembler) silenceSegment(seconds float64) *Segment {
	pcm := wav.Silence(seconds, a.format)

	return &Segment{
		PCM:     pcm,
		Seconds: a.format.Duration(len(pcm)),
		Silent:  true,
	}
}

func (a *Assembler) silenceFor(entry script.Entry, fallback float64) float64 {
	if entry.HasExplicitDuration() {
		return entry.Seconds
	}

	return fallback
}
