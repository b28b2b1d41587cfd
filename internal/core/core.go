// Package core defines the shared interfaces, domain types, and error
// taxonomy for the audiobook synthesis engine.
package core

import (
	"context"
	"errors"
	"fmt"
)

// Failure taxonomy for a chapter run or a story combine. Every failure of an
// engine operation wraps exactly one of these sentinels.
var (
	// ErrMalformedScript indicates a script entry violates the shape contract.
	ErrMalformedScript = errors.New("malformed script")
	// ErrUnresolvedSpeaker indicates a speaker has no voice profile.
	ErrUnresolvedSpeaker = errors.New("unresolved speaker")
	// ErrSynthesisFailed indicates the voice service failed after all retries.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrExportFailed indicates the final artifact could not be encoded or stored.
	ErrExportFailed = errors.New("export failed")
	// ErrMissingChapterArtifact indicates a combine referenced a chapter with no
	// exported audio.
	ErrMissingChapterArtifact = errors.New("missing chapter artifact")
)

// SynthesisError reports which speaker's synthesis exhausted its retries and
// why. It matches ErrSynthesisFailed under errors.Is.
type SynthesisError struct {
	Speaker string
	Cause   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for speaker %q: %v", e.Speaker, e.Cause)
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the ErrSynthesisFailed sentinel.
func (e *SynthesisError) Is(target error) bool {
	return errors.Is(target, ErrSynthesisFailed)
}

// VoiceProfile holds the delivery parameters used for one speaker's synthesis
// calls. Profiles are value types and are never mutated in place; emotion
// adjustment returns a modified copy.
type VoiceProfile struct {
	VoiceID         string  `json:"voice_id"        toml:"voice_id"`
	Stability       float64 `json:"stability"       toml:"stability"`
	SimilarityBoost float64 `json:"similarity_boost" toml:"similarity_boost"`
	Style           float64 `json:"style"           toml:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost" toml:"use_speaker_boost"`
}

// SpeechRequest is one synthesis call against the external voice service.
type SpeechRequest struct {
	Text     string
	Language string
	Profile  VoiceProfile
}

// Synthesizer converts one speech request into raw audio data.
// Implementations must honor ctx cancellation and deadlines.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// ObjectStore is a key-value blob store for scripts and audio artifacts.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ProgressReporter receives coarse progress signals during a chapter run.
// Reports are outbound notifications only; failures to deliver them must not
// affect the run.
type ProgressReporter interface {
	Report(ctx context.Context, message string, done, total int)
}

// NopProgressReporter discards all progress signals.
type NopProgressReporter struct{}

// Report implements ProgressReporter.
func (NopProgressReporter) Report(_ context.Context, _ string, _, _ int) {}

// ChapterArtifact is the reference to one chapter's exported audio, immutable
// once written. Regeneration produces a new artifact under a new key and
// repoints the chapter manifest; it never rewrites an existing key.
type ChapterArtifact struct {
	StoryID         string  `json:"story_id"`
	ChapterNumber   int     `json:"chapter_number"`
	Key             string  `json:"key"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int     `json:"size_bytes"`
}
