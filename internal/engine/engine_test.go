// Package engine_test tests the chapter synthesis pipeline end to end with a
// mock voice service and an in-memory artifact store.
package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/engine"
	"github.com/lingolou/audiobook-service/internal/export"
	"github.com/lingolou/audiobook-service/internal/synth"
	"github.com/lingolou/audiobook-service/internal/voice"
	"github.com/lingolou/audiobook-service/internal/wav"
)

// mockSynthesizer records every request and returns one second of silence per
// call.
type mockSynthesizer struct {
	mutex    sync.Mutex
	requests []core.SpeechRequest
}

func (m *mockSynthesizer) Synthesize(_ context.Context, req core.SpeechRequest) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests = append(m.requests, req)

	return make([]byte, wav.DefaultFormat().ByteRate()), nil
}

func (m *mockSynthesizer) recorded() []core.SpeechRequest {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]core.SpeechRequest, len(m.requests))
	copy(out, m.requests)

	return out
}

func (m *mockSynthesizer) byText(t *testing.T, text string) core.SpeechRequest {
	t.Helper()

	for _, req := range m.recorded() {
		if req.Text == text {
			return req
		}
	}

	t.Fatalf("no synthesis request with text %q", text)

	return core.SpeechRequest{}
}

// memoryStore is an in-memory core.ObjectStore.
type memoryStore struct {
	mutex   sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{mutex: sync.Mutex{}, objects: make(map[string][]byte)}
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object: " + key)
	}

	return data, nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.objects[key] = data

	return nil
}

type testRig struct {
	engine      *engine.Engine
	synthesizer *mockSynthesizer
	store       *memoryStore
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	synthesizer := &mockSynthesizer{mutex: sync.Mutex{}, requests: nil}
	store := newMemoryStore()

	dispatcher := synth.New(
		synthesizer,
		func(error) bool { return true },
		2,
		1,
		time.Millisecond,
		log,
	)

	assembler := assemble.New(wav.DefaultFormat(), assemble.Options{
		SceneSeconds:       0,
		SFXSeconds:         0,
		PerformanceSeconds: 0,
		MixHeadroom:        0,
	})

	eng := engine.New(
		dispatcher,
		assembler,
		export.NewExporter(store, log),
		voice.NewEmotionMapper(voice.DefaultEmotionTable()),
		nil,
		log,
	)

	return &testRig{engine: eng, synthesizer: synthesizer, store: store}
}

func defaultProfile(voiceID string) core.VoiceProfile {
	return core.VoiceProfile{
		VoiceID:         voiceID,
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

func chapterRequest(script string, voices map[string]core.VoiceProfile) engine.ChapterRequest {
	return engine.ChapterRequest{
		StoryID:         "story-1",
		ChapterNumber:   1,
		Script:          []byte(script),
		Voices:          voices,
		Overrides:       nil,
		Groups:          nil,
		DefaultLanguage: "en",
		Progress:        nil,
	}
}

func TestSynthesizeChapterProducesArtifact(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[
		{"type": "line", "speaker": "MAX", "text": "Guten Morgen!", "language": "de"},
		{"type": "pause", "seconds": 0.5},
		{"type": "line", "speaker": "MIA", "text": "Good morning!"}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
		"MIA": defaultProfile("voice-mia"),
	})

	artifact, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.NoError(t, err)

	// Two one-second clips plus a half-second pause.
	assert.InEpsilon(t, 2.5, artifact.DurationSeconds, 0.001)

	stored, err := rig.store.Download(context.Background(), artifact.Key)
	require.NoError(t, err)

	duration, err := wav.Probe(stored)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.5, duration, 0.001)

	manifestData, err := rig.store.Download(context.Background(), export.ManifestKey("story-1", 1))
	require.NoError(t, err)
	assert.NotEmpty(t, manifestData)
}

func TestSynthesizeChapterAppliesEmotionTags(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[
		{"type": "line", "speaker": "MAX", "text": "Guten Morgen!"},
		{"type": "line", "speaker": "MAX", "text": "[excited] Bye!"}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
	})

	_, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, rig.synthesizer.recorded(), 2)

	plain := rig.synthesizer.byText(t, "Guten Morgen!")
	assert.InEpsilon(t, 0.5, plain.Profile.Stability, 0.001)

	tagged := rig.synthesizer.byText(t, "Bye!")
	assert.InEpsilon(t, 0.3, tagged.Profile.Stability, 0.001)
	assert.InEpsilon(t, 0.6, tagged.Profile.Style, 0.001)
}

func TestSynthesizeChapterLanguageFallback(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[
		{"type": "line", "speaker": "MAX", "text": "Hallo.", "language": "de"},
		{"type": "line", "speaker": "MAX", "text": "Untagged line."}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
	})

	_, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "de", rig.synthesizer.byText(t, "Hallo.").Language)
	assert.Equal(t, "en", rig.synthesizer.byText(t, "Untagged line.").Language)
}

func TestSynthesizeChapterGroupFansOut(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[
		{"type": "line", "speaker": "ALL", "text": "Tschuess!"}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
		"MIA": defaultProfile("voice-mia"),
	})
	req.Groups = map[string][]string{"ALL": {"MAX", "MIA"}}

	artifact, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.NoError(t, err)

	// One call per group member, one mixed segment in the artifact.
	assert.Len(t, rig.synthesizer.recorded(), 2)
	assert.InEpsilon(t, 1.0, artifact.DurationSeconds, 0.001)
}

func TestSynthesizeChapterUnresolvedSpeakerCostsNoCalls(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[
		{"type": "line", "speaker": "MAX", "text": "Hallo."},
		{"type": "line", "speaker": "GHOST", "text": "Boo."}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
	})

	_, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.ErrorIs(t, err, core.ErrUnresolvedSpeaker)
	assert.Empty(t, rig.synthesizer.recorded())
}

func TestSynthesizeChapterMalformedScript(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	req := chapterRequest(`[{"type": "pause"}]`, nil)

	_, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.ErrorIs(t, err, core.ErrMalformedScript)
	assert.Empty(t, rig.synthesizer.recorded())
}

func TestSynthesizeChapterReportsProgress(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t)

	var (
		mutex   sync.Mutex
		reports int
	)

	req := chapterRequest(`[
		{"type": "line", "speaker": "MAX", "text": "Eins."},
		{"type": "line", "speaker": "MAX", "text": "Zwei."}
	]`, map[string]core.VoiceProfile{
		"MAX": defaultProfile("voice-max"),
	})
	req.Progress = progressFunc(func(_ context.Context, _ string, _, total int) {
		mutex.Lock()
		defer mutex.Unlock()

		assert.Equal(t, 2, total)

		reports++
	})

	_, err := rig.engine.SynthesizeChapter(context.Background(), req)
	require.NoError(t, err)

	mutex.Lock()
	defer mutex.Unlock()
	// Initial report, one per completed segment, and the export report.
	assert.Equal(t, 4, reports)
}

type progressFunc func(ctx context.Context, message string, done, total int)

func (f progressFunc) Report(ctx context.Context, message string, done, total int) {
	f(ctx, message, done, total)
}
