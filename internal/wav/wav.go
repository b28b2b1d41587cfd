// Package wav implements the PCM16 audio handling the engine needs: WAV
// container encode/decode, duration probing, silence generation, and the
// additive mix used for group chatter.
//
// The engine's working representation is raw little-endian 16-bit PCM, which
// is what the voice service returns; the WAV container only appears at the
// artifact boundary.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Format describes the PCM layout of a buffer or container.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultFormat is the engine-wide working format: 44.1 kHz mono PCM16,
// matching the voice service's pcm_44100 output.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16}
}

// BlockAlign returns the byte size of one sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the PCM bytes consumed per second.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration returns the play time in seconds of a raw PCM buffer.
func (f Format) Duration(pcmBytes int) float64 {
	if f.ByteRate() == 0 {
		return 0
	}

	return float64(pcmBytes) / float64(f.ByteRate())
}

const (
	riffHeaderSize = 44
	fmtChunkSize   = 16
	pcmAudioFormat = 1
)

// Static errors.
var (
	ErrNotWAV          = errors.New("not a wav file")
	ErrNoDataChunk     = errors.New("wav file has no data chunk")
	ErrNotPCM          = errors.New("wav file is not uncompressed PCM")
	ErrFormatMismatch  = errors.New("pcm format mismatch")
	ErrOddSampleLength = errors.New("pcm buffer is not sample-aligned")
)

// Encode wraps raw PCM in a canonical RIFF/WAVE container.
func Encode(pcm []byte, format Format) []byte {
	dataSize := len(pcm)
	buf := bytes.NewBuffer(make([]byte, 0, riffHeaderSize+dataSize))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	_ = binary.Write(buf, binary.LittleEndian, uint16(pcmAudioFormat))
	_ = binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.ByteRate()))
	_ = binary.Write(buf, binary.LittleEndian, uint16(format.BlockAlign()))
	_ = binary.Write(buf, binary.LittleEndian, uint16(format.BitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes()
}

// Decode parses a WAV container and returns its format and raw PCM data. It
// walks the chunk list rather than assuming a fixed 44-byte header so files
// written by other encoders decode too.
func Decode(data []byte) (Format, []byte, error) {
	if len(data) < riffHeaderSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		format   Format
		haveFmt  bool
		pcm      []byte
		haveData bool
	)

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkSize {
				return Format{}, nil, ErrNotWAV
			}

			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != pcmAudioFormat {
				return Format{}, nil, ErrNotPCM
			}

			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt || !haveData {
		return Format{}, nil, ErrNoDataChunk
	}

	return format, pcm, nil
}

// Probe measures the duration in seconds of an encoded WAV file. Artifact
// durations are always measured this way, from the final encoded bytes,
// rather than by summing estimated segment durations.
func Probe(data []byte) (float64, error) {
	format, pcm, err := Decode(data)
	if err != nil {
		return 0, err
	}

	return format.Duration(len(pcm)), nil
}

// Silence returns a zeroed PCM buffer covering the given duration, rounded
// to a whole sample frame.
func Silence(seconds float64, format Format) []byte {
	if seconds <= 0 {
		return nil
	}

	frames := int(math.Round(seconds * float64(format.SampleRate)))

	return make([]byte, frames*format.BlockAlign())
}

// mixCeiling caps the summed gain so large groups do not blow past 0 dBFS.
const mixCeiling = 2.0

// Mix overlays PCM16 clips into one buffer of the longest clip's length;
// shorter clips pad with trailing silence. Each member contributes with gain
// min(ceiling, headroom*n)/n, the normalization the product shipped with,
// and the sum saturates at the int16 range instead of wrapping.
func Mix(clips [][]byte, headroom float64) ([]byte, error) {
	if len(clips) == 0 {
		return nil, nil
	}

	if len(clips) == 1 {
		out := make([]byte, len(clips[0]))
		copy(out, clips[0])

		return out, nil
	}

	longest := 0

	for index, clip := range clips {
		if len(clip)%2 != 0 {
			return nil, fmt.Errorf("%w: clip %d has %d bytes", ErrOddSampleLength, index, len(clip))
		}

		if len(clip) > longest {
			longest = len(clip)
		}
	}

	memberCount := float64(len(clips))
	gain := math.Min(mixCeiling, headroom*memberCount) / memberCount

	mixed := make([]byte, longest)

	for frame := 0; frame+1 < longest; frame += 2 {
		var sum float64

		for _, clip := range clips {
			if frame+1 >= len(clip) {
				continue
			}

			sample := int16(binary.LittleEndian.Uint16(clip[frame : frame+2]))
			sum += float64(sample) * gain
		}

		binary.LittleEndian.PutUint16(mixed[frame:frame+2], uint16(clampPCM16(sum)))
	}

	return mixed, nil
}

func clampPCM16(sample float64) int16 {
	switch {
	case sample > math.MaxInt16:
		return math.MaxInt16
	case sample < math.MinInt16:
		return math.MinInt16
	default:
		return int16(sample)
	}
}
