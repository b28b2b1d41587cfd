package worker

import (
	"github.com/book-expert/events"

	"github.com/lingolou/audiobook-service/internal/core"
)

// Failure kinds carried on reply events, matching the engine's error
// taxonomy.
const (
	FailureMalformedScript        = "malformed_script"
	FailureUnresolvedSpeaker      = "unresolved_speaker"
	FailureSynthesisFailed        = "synthesis_failed"
	FailureExportFailed           = "export_failed"
	FailureMissingChapterArtifact = "missing_chapter_artifact"
	FailureInternal               = "internal"
)

// ChapterSynthesisRequestedEvent asks the worker to synthesize one chapter.
// ScriptKey points at the script JSON in the object store; Voices is the
// story's resolved speaker map, Overrides optionally re-assigns voices for
// this request, and Groups is the story's group-alias roster.
type ChapterSynthesisRequestedEvent struct {
	Header          events.EventHeader           `json:"Header"`
	StoryID         string                       `json:"StoryID"`
	ChapterNumber   int                          `json:"ChapterNumber"`
	ScriptKey       string                       `json:"ScriptKey"`
	Voices          map[string]core.VoiceProfile `json:"Voices"`
	Overrides       map[string]core.VoiceProfile `json:"Overrides,omitempty"`
	Groups          map[string][]string          `json:"Groups,omitempty"`
	DefaultLanguage string                       `json:"DefaultLanguage,omitempty"`
}

// ChapterAudioCreatedEvent is the reply to a synthesis request. On failure
// ArtifactKey is empty and FailureKind/Error describe the failure.
type ChapterAudioCreatedEvent struct {
	Header          events.EventHeader `json:"Header"`
	StoryID         string             `json:"StoryID"`
	ChapterNumber   int                `json:"ChapterNumber"`
	ArtifactKey     string             `json:"ArtifactKey,omitempty"`
	DurationSeconds float64            `json:"DurationSeconds,omitempty"`
	FailureKind     string             `json:"FailureKind,omitempty"`
	Error           string             `json:"Error,omitempty"`
}

// ChapterProgressEvent is published on the progress subject while a chapter
// run is in flight. It is an outbound notification only; the task-status
// store that consumes it is outside this service.
type ChapterProgressEvent struct {
	Header        events.EventHeader `json:"Header"`
	StoryID       string             `json:"StoryID"`
	ChapterNumber int                `json:"ChapterNumber"`
	Message       string             `json:"Message"`
	Done          int                `json:"Done"`
	Total         int                `json:"Total"`
}

// StoryCombineRequestedEvent asks the worker to concatenate the story's
// exported chapters, in the order given, into one download.
type StoryCombineRequestedEvent struct {
	Header   events.EventHeader `json:"Header"`
	StoryID  string             `json:"StoryID"`
	Chapters []int              `json:"Chapters"`
}

// StoryCombinedEvent is the reply to a combine request. DownloadKey names a
// disposable object holding the combined stream; the caller deletes it after
// serving the download.
type StoryCombinedEvent struct {
	Header          events.EventHeader `json:"Header"`
	StoryID         string             `json:"StoryID"`
	DownloadKey     string             `json:"DownloadKey,omitempty"`
	DurationSeconds float64            `json:"DurationSeconds,omitempty"`
	FailureKind     string             `json:"FailureKind,omitempty"`
	Error           string             `json:"Error,omitempty"`
}
