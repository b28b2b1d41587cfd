// Package engine orchestrates one chapter synthesis run: script parsing,
// voice resolution, concurrent synthesis, assembly, and export.
package engine

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/export"
	"github.com/lingolou/audiobook-service/internal/script"
	"github.com/lingolou/audiobook-service/internal/synth"
	"github.com/lingolou/audiobook-service/internal/voice"
)

// ChapterRequest is one chapter synthesis operation. Voices is the story's
// configured speaker map; Overrides optionally re-assigns voices for this
// call only; Groups is the story's closed group-alias roster.
type ChapterRequest struct {
	StoryID         string
	ChapterNumber   int
	Script          []byte
	Voices          map[string]core.VoiceProfile
	Overrides       map[string]core.VoiceProfile
	Groups          map[string][]string
	DefaultLanguage string

	// Progress, when set, receives this run's progress signals instead of
	// the engine-wide reporter.
	Progress core.ProgressReporter
}

// Engine wires the pipeline stages together. Stages before the dispatcher
// are pure; the only suspension points are the external synthesis calls and
// the final export.
type Engine struct {
	dispatcher *synth.Dispatcher
	assembler  *assemble.Assembler
	exporter   *export.Exporter
	emotions   *voice.EmotionMapper
	progress   core.ProgressReporter
	log        *logger.Logger
}

// New creates an engine. A nil progress reporter discards progress signals.
func New(
	dispatcher *synth.Dispatcher,
	assembler *assemble.Assembler,
	exporter *export.Exporter,
	emotions *voice.EmotionMapper,
	progress core.ProgressReporter,
	log *logger.Logger,
) *Engine {
	if progress == nil {
		progress = core.NopProgressReporter{}
	}

	return &Engine{
		dispatcher: dispatcher,
		assembler:  assembler,
		exporter:   exporter,
		emotions:   emotions,
		progress:   progress,
		log:        log,
	}
}

// SynthesizeChapter runs the whole pipeline for one chapter and returns the
// stored artifact reference. Every speaker is resolved before the first
// synthesis call, so a resolution failure costs no external API quota; any
// failure after that discards all synthesized audio and writes nothing.
func (e *Engine) SynthesizeChapter(
	ctx context.Context,
	req ChapterRequest,
) (*core.ChapterArtifact, error) {
	entries, err := script.Parse(req.Script)
	if err != nil {
		return nil, err
	}

	resolver := voice.NewResolver(req.Voices, req.Overrides, req.Groups)

	resolved, err := resolver.ResolveAll(script.Speakers(entries))
	if err != nil {
		return nil, err
	}

	jobs, memberClips := e.buildJobs(entries, resolved, req.DefaultLanguage)

	progress := e.progress
	if req.Progress != nil {
		progress = req.Progress
	}

	e.log.Info(
		"Starting chapter %d of story %s: %d entries, %d speech segments",
		req.ChapterNumber,
		req.StoryID,
		len(entries),
		len(jobs),
	)

	progress.Report(ctx, "synthesizing speech", 0, len(jobs))

	onDone := func(completed, total int) {
		progress.Report(
			ctx,
			fmt.Sprintf("chapter %d: synthesized %d of %d speech segments",
				req.ChapterNumber, completed, total),
			completed,
			total,
		)
	}

	clips, err := e.dispatcher.DispatchAll(ctx, jobs, onDone)
	if err != nil {
		return nil, err
	}

	for jobIndex, job := range jobs {
		memberClips[job.EntryIndex][job.Member] = clips[jobIndex]
	}

	track, err := e.assembler.Assemble(entries, memberClips)
	if err != nil {
		return nil, err
	}

	progress.Report(ctx, "exporting chapter audio", len(jobs), len(jobs))

	artifact, err := e.exporter.Export(ctx, req.StoryID, req.ChapterNumber, track)
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

// buildJobs fans each line entry out to one job per resolved member, with
// emotion-adjusted delivery parameters and stripped text. The returned map
// is pre-sized so completed clips can be slotted by (entry, member) index.
func (e *Engine) buildJobs(
	entries []script.Entry,
	resolved map[string][]voice.Member,
	defaultLanguage string,
) ([]synth.Job, map[int][][]byte) {
	var jobs []synth.Job

	memberClips := make(map[int][][]byte)

	for entryIndex, entry := range entries {
		if entry.Kind != script.KindLine {
			continue
		}

		members := resolved[entry.Speaker]
		memberClips[entryIndex] = make([][]byte, len(members))

		language := entry.Language
		if language == "" {
			language = defaultLanguage
		}

		for memberIndex, member := range members {
			profile, text := e.emotions.Apply(member.Profile, entry.Text)

			jobs = append(jobs, synth.Job{
				EntryIndex: entryIndex,
				Member:     memberIndex,
				Speaker:    member.Speaker,
				Request: core.SpeechRequest{
					Text:     text,
					Language: language,
					Profile:  profile,
				},
			})
		}
	}

	return jobs, memberClips
}
