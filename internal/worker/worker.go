// Package worker provides the NATS worker that serves chapter-synthesis and
// story-combine requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/engine"
	"github.com/lingolou/audiobook-service/internal/export"
)

// Chapter runs spend most of their time in external synthesis calls; the
// handler timeout bounds a whole run, not a single call.
const (
	synthesisTimeout = 30 * time.Minute
	combineTimeout   = 2 * time.Minute
)

const downloadKeyFormat = "downloads/%s.wav"

// NatsWorker listens for engine jobs on NATS subjects and processes them.
// Chapter runs are independent of each other and of combines; a failed or
// cancelled run never affects sibling chapters or stored artifacts.
type NatsWorker struct {
	natsConnection   *nats.Conn
	synthesisSubject string
	combineSubject   string
	progressSubject  string
	store            core.ObjectStore
	engine           *engine.Engine
	combiner         *export.Combiner
	log              *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	synthesisSubject string,
	combineSubject string,
	progressSubject string,
	store core.ObjectStore,
	eng *engine.Engine,
	combiner *export.Combiner,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection:   natsConnection,
		synthesisSubject: synthesisSubject,
		combineSubject:   combineSubject,
		progressSubject:  progressSubject,
		store:            store,
		engine:           eng,
		combiner:         combiner,
		log:              log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	synthesisSub, err := w.natsConnection.Subscribe(w.synthesisSubject, w.handleSynthesis)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.synthesisSubject, err)
	}

	combineSub, err := w.natsConnection.Subscribe(w.combineSubject, w.handleCombine)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.combineSubject, err)
	}

	<-ctx.Done()

	for _, sub := range []*nats.Subscription{synthesisSub, combineSub} {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleSynthesis(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var event ChapterSynthesisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis request: %v", err)

		return
	}

	reply := ChapterAudioCreatedEvent{
		Header:        event.Header,
		StoryID:       event.StoryID,
		ChapterNumber: event.ChapterNumber,
	}

	artifact, runErr := w.runChapter(ctx, &event)
	if runErr != nil {
		w.log.Error(
			"Chapter %d of story %s failed for workflow %s: %v",
			event.ChapterNumber,
			event.StoryID,
			event.Header.WorkflowID,
			runErr,
		)

		reply.FailureKind = failureKind(runErr)
		reply.Error = runErr.Error()
	} else {
		reply.ArtifactKey = artifact.Key
		reply.DurationSeconds = artifact.DurationSeconds
	}

	w.respond(msg, &reply, event.Header.WorkflowID)
}

// runChapter downloads the script and drives one engine run, publishing
// progress along the way.
func (w *NatsWorker) runChapter(
	ctx context.Context,
	event *ChapterSynthesisRequestedEvent,
) (*core.ChapterArtifact, error) {
	scriptData, err := w.store.Download(ctx, event.ScriptKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download script for key '%s': %w", event.ScriptKey, err)
	}

	request := engine.ChapterRequest{
		StoryID:         event.StoryID,
		ChapterNumber:   event.ChapterNumber,
		Script:          scriptData,
		Voices:          event.Voices,
		Overrides:       event.Overrides,
		Groups:          event.Groups,
		DefaultLanguage: event.DefaultLanguage,
		Progress: &progressPublisher{
			worker:        w,
			header:        event.Header,
			storyID:       event.StoryID,
			chapterNumber: event.ChapterNumber,
		},
	}

	artifact, err := w.engine.SynthesizeChapter(ctx, request)
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

func (w *NatsWorker) handleCombine(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), combineTimeout)
	defer cancel()

	var event StoryCombineRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal combine request: %v", err)

		return
	}

	reply := StoryCombinedEvent{
		Header:  event.Header,
		StoryID: event.StoryID,
	}

	stream, duration, combineErr := w.combiner.Combine(ctx, event.StoryID, event.Chapters)
	if combineErr != nil {
		w.log.Error(
			"Combine for story %s failed for workflow %s: %v",
			event.StoryID,
			event.Header.WorkflowID,
			combineErr,
		)

		reply.FailureKind = failureKind(combineErr)
		reply.Error = combineErr.Error()
		w.respond(msg, &reply, event.Header.WorkflowID)

		return
	}

	// The combined stream exceeds NATS message limits, so it travels
	// through the object store under a disposable key the caller deletes
	// after serving the download.
	downloadKey := fmt.Sprintf(downloadKeyFormat, uuid.NewString())

	uploadErr := w.store.Upload(ctx, downloadKey, stream)
	if uploadErr != nil {
		reply.FailureKind = FailureInternal
		reply.Error = uploadErr.Error()
		w.respond(msg, &reply, event.Header.WorkflowID)

		return
	}

	reply.DownloadKey = downloadKey
	reply.DurationSeconds = duration
	w.respond(msg, &reply, event.Header.WorkflowID)
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any, workflowID string) {
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply for workflow %s: %v", workflowID, err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", workflowID, err)
	}
}

// progressPublisher forwards engine progress signals to the progress
// subject. Publish failures are logged and dropped; progress is advisory and
// must never fail a run.
type progressPublisher struct {
	worker        *NatsWorker
	header        events.EventHeader
	storyID       string
	chapterNumber int
}

// Report implements core.ProgressReporter.
func (p *progressPublisher) Report(_ context.Context, message string, done, total int) {
	event := ChapterProgressEvent{
		Header:        p.header,
		StoryID:       p.storyID,
		ChapterNumber: p.chapterNumber,
		Message:       message,
		Done:          done,
		Total:         total,
	}

	data, err := json.Marshal(&event)
	if err != nil {
		p.worker.log.Warn("Failed to marshal progress event: %v", err)

		return
	}

	err = p.worker.natsConnection.Publish(p.worker.progressSubject, data)
	if err != nil {
		p.worker.log.Warn("Failed to publish progress event: %v", err)
	}
}

// failureKind maps an engine error to the reply taxonomy.
func failureKind(err error) string {
	switch {
	case errors.Is(err, core.ErrMalformedScript):
		return FailureMalformedScript
	case errors.Is(err, core.ErrUnresolvedSpeaker):
		return FailureUnresolvedSpeaker
	case errors.Is(err, core.ErrSynthesisFailed):
		return FailureSynthesisFailed
	case errors.Is(err, core.ErrExportFailed):
		return FailureExportFailed
	case errors.Is(err, core.ErrMissingChapterArtifact):
		return FailureMissingChapterArtifact
	default:
		return FailureInternal
	}
}
