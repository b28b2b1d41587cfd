package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/wav"
)

// Combiner concatenates a story's exported chapter artifacts into one
// audio stream. It never synthesizes missing audio and never persists its
// result; the combined stream is a derived, disposable byte sequence.
type Combiner struct {
	store core.ObjectStore
	log   *logger.Logger
}

// NewCombiner creates a combiner over the given store.
func NewCombiner(store core.ObjectStore, log *logger.Logger) *Combiner {
	return &Combiner{store: store, log: log}
}

// Combine fetches the chapters' current artifacts in the order given and
// concatenates them at the container level: one WAV header over the joined
// PCM data, no re-encoding. A chapter without an exported artifact fails the
// whole combine with core.ErrMissingChapterArtifact. Returns the combined
// stream and its duration in seconds.
func (c *Combiner) Combine(
	ctx context.Context,
	storyID string,
	chapterNumbers []int,
) ([]byte, float64, error) {
	var (
		format    wav.Format
		haveFirst bool
		joined    []byte
	)

	for _, chapterNumber := range chapterNumbers {
		chapterFormat, pcm, err := c.chapterPCM(ctx, storyID, chapterNumber)
		if err != nil {
			return nil, 0, err
		}

		if !haveFirst {
			format = chapterFormat
			haveFirst = true
		} else if chapterFormat != format {
			return nil, 0, fmt.Errorf(
				"%w: chapter %d is %+v, expected %+v",
				wav.ErrFormatMismatch,
				chapterNumber,
				chapterFormat,
				format,
			)
		}

		joined = append(joined, pcm...)
	}

	if !haveFirst {
		format = wav.DefaultFormat()
	}

	combined := wav.Encode(joined, format)

	duration, err := wav.Probe(combined)
	if err != nil {
		return nil, 0, fmt.Errorf("combined stream unreadable: %w", err)
	}

	c.log.Info(
		"Combined %d chapters of story %s (%s)",
		len(chapterNumbers),
		storyID,
		formatDuration(duration),
	)

	return combined, duration, nil
}

// chapterPCM loads one chapter's current artifact through its manifest.
func (c *Combiner) chapterPCM(
	ctx context.Context,
	storyID string,
	chapterNumber int,
) (wav.Format, []byte, error) {
	manifestData, err := c.store.Download(ctx, ManifestKey(storyID, chapterNumber))
	if err != nil {
		return wav.Format{}, nil, fmt.Errorf(
			"%w: story %s chapter %d: %w",
			core.ErrMissingChapterArtifact,
			storyID,
			chapterNumber,
			err,
		)
	}

	var manifest Manifest

	err = json.Unmarshal(manifestData, &manifest)
	if err != nil {
		return wav.Format{}, nil, fmt.Errorf(
			"%w: story %s chapter %d has a corrupt manifest: %w",
			core.ErrMissingChapterArtifact,
			storyID,
			chapterNumber,
			err,
		)
	}

	artifactData, err := c.store.Download(ctx, manifest.ArtifactKey)
	if err != nil {
		return wav.Format{}, nil, fmt.Errorf(
			"%w: story %s chapter %d artifact '%s': %w",
			core.ErrMissingChapterArtifact,
			storyID,
			chapterNumber,
			manifest.ArtifactKey,
			err,
		)
	}

	format, pcm, err := wav.Decode(artifactData)
	if err != nil {
		return wav.Format{}, nil, fmt.Errorf(
			"story %s chapter %d artifact is not valid audio: %w",
			storyID,
			chapterNumber,
			err,
		)
	}

	return format, pcm, nil
}
