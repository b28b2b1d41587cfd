// Package export finalizes assembled chapter tracks into stored artifacts
// and builds full-story streams from already-exported chapters.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/wav"
)

// Object key layout. The audio lives under a per-revision key; the manifest
// is the chapter's mutable "current artifact" pointer and is only rewritten
// after the audio upload succeeds, so a failed export never disturbs the
// last-good artifact.
const (
	artifactKeyFormat = "stories/%s/chapters/%d/%s.wav"
	manifestKeyFormat = "stories/%s/chapters/%d.json"
)

// Manifest is the stored pointer from a chapter to its current artifact.
type Manifest struct {
	StoryID         string    `json:"story_id"`
	ChapterNumber   int       `json:"chapter_number"`
	ArtifactKey     string    `json:"artifact_key"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int       `json:"size_bytes"`
	CreatedAt       time.Time `json:"created_at"`
}

// ManifestKey returns the pointer key for a chapter.
func ManifestKey(storyID string, chapterNumber int) string {
	return fmt.Sprintf(manifestKeyFormat, storyID, chapterNumber)
}

// Exporter encodes chapter tracks and writes them to the artifact store.
type Exporter struct {
	store core.ObjectStore
	log   *logger.Logger
}

// NewExporter creates an exporter over the given store.
func NewExporter(store core.ObjectStore, log *logger.Logger) *Exporter {
	return &Exporter{store: store, log: log}
}

// Export encodes the track to a WAV artifact, measures its duration from the
// encoded bytes, stores it under a fresh revision key, and repoints the
// chapter manifest. Every failure wraps core.ErrExportFailed and leaves any
// previously exported artifact and its pointer untouched.
func (e *Exporter) Export(
	ctx context.Context,
	storyID string,
	chapterNumber int,
	track *assemble.Track,
) (*core.ChapterArtifact, error) {
	encoded := wav.Encode(track.PCM, track.Format)

	// Measure the final encoded file rather than trusting the summed
	// segment durations, absorbing any encoder rounding.
	duration, err := wav.Probe(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: encoded artifact unreadable: %w", core.ErrExportFailed, err)
	}

	key := fmt.Sprintf(artifactKeyFormat, storyID, chapterNumber, uuid.NewString())

	uploadErr := e.store.Upload(ctx, key, encoded)
	if uploadErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExportFailed, uploadErr)
	}

	artifact := &core.ChapterArtifact{
		StoryID:         storyID,
		ChapterNumber:   chapterNumber,
		Key:             key,
		DurationSeconds: duration,
		SizeBytes:       len(encoded),
	}

	pointerErr := e.writeManifest(ctx, artifact)
	if pointerErr != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExportFailed, pointerErr)
	}

	e.log.Info(
		"Exported chapter %d of story %s: %s (%s, %d bytes)",
		chapterNumber,
		storyID,
		key,
		formatDuration(duration),
		len(encoded),
	)

	return artifact, nil
}

func (e *Exporter) writeManifest(ctx context.Context, artifact *core.ChapterArtifact) error {
	manifest := Manifest{
		StoryID:         artifact.StoryID,
		ChapterNumber:   artifact.ChapterNumber,
		ArtifactKey:     artifact.Key,
		DurationSeconds: artifact.DurationSeconds,
		SizeBytes:       artifact.SizeBytes,
		CreatedAt:       time.Now().UTC(),
	}

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal chapter manifest: %w", err)
	}

	err = e.store.Upload(ctx, ManifestKey(artifact.StoryID, artifact.ChapterNumber), data)
	if err != nil {
		return fmt.Errorf("failed to store chapter manifest: %w", err)
	}

	return nil
}

const secondsInMinute = 60

// formatDuration renders a duration for log lines (e.g. "3m 12.4s").
func formatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf("%.1fs", seconds)
	}

	minutes := int(seconds / secondsInMinute)
	remaining := seconds - float64(minutes*secondsInMinute)

	return fmt.Sprintf("%dm %.1fs", minutes, remaining)
}
