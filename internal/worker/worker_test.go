// Package worker_test tests the NATS worker for the audiobook service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/core"
	"github.com/lingolou/audiobook-service/internal/engine"
	"github.com/lingolou/audiobook-service/internal/export"
	"github.com/lingolou/audiobook-service/internal/synth"
	"github.com/lingolou/audiobook-service/internal/voice"
	"github.com/lingolou/audiobook-service/internal/wav"
	"github.com/lingolou/audiobook-service/internal/worker"
)

const (
	testSynthesisSubject = "test.chapter.synthesize"
	testCombineSubject   = "test.story.combine"
	testProgressSubject  = "test.chapter.progress"
)

// mockObjectStore is an in-memory ObjectStore shared by the worker and the
// test's setup code.
type mockObjectStore struct {
	mutex   sync.Mutex
	objects map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{mutex: sync.Mutex{}, objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object: " + key)
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.objects[key] = data

	return nil
}

// mockSynthesizer returns one second of silence for every request.
type mockSynthesizer struct{}

func (mockSynthesizer) Synthesize(_ context.Context, _ core.SpeechRequest) ([]byte, error) {
	return make([]byte, wav.DefaultFormat().ByteRate()), nil
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T) (*worker.NatsWorker, *mockObjectStore, *nats.Conn) {
	t.Helper()

	store := newMockObjectStore()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	dispatcher := synth.New(
		mockSynthesizer{},
		func(error) bool { return true },
		2,
		1,
		time.Millisecond,
		testLogger,
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
		export.NewExporter(store, testLogger),
		voice.NewEmotionMapper(voice.DefaultEmotionTable()),
		nil,
		testLogger,
	)

	natsConnection := createTestNatsClient(t)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection,
		testSynthesisSubject,
		testCombineSubject,
		testProgressSubject,
		store,
		eng,
		export.NewCombiner(store, testLogger),
		testLogger,
	)
	require.NoError(t, err)

	return workerInstance, store, natsConnection
}

func startWorker(t *testing.T, workerInstance *worker.NatsWorker, natsConnection *nats.Conn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	// The worker subscribes on the shared connection; wait until both
	// subjects are registered before letting the test publish.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()

		shutdownErr := <-errChan
		assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
	})
}

func testHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}

func testVoices() map[string]core.VoiceProfile {
	return map[string]core.VoiceProfile{
		"MAX": {
			VoiceID:         "voice-max",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.0,
			SpeakerBoost:    true,
		},
	}
}

func TestHandleSynthesis_Success(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	script := []byte(`[
		{"type": "line", "speaker": "MAX", "text": "Guten Morgen!"},
		{"type": "pause", "seconds": 0.5}
	]`)
	require.NoError(t, store.Upload(context.Background(), "scripts/ch1.json", script))

	requestEvent := worker.ChapterSynthesisRequestedEvent{
		Header:          testHeader(),
		StoryID:         "story-1",
		ChapterNumber:   1,
		ScriptKey:       "scripts/ch1.json",
		Voices:          testVoices(),
		Overrides:       nil,
		Groups:          nil,
		DefaultLanguage: "de",
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSynthesisSubject, eventData, 10*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.ChapterAudioCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Empty(t, reply.FailureKind)
	assert.Empty(t, reply.Error)
	assert.NotEmpty(t, reply.ArtifactKey)
	assert.InEpsilon(t, 1.5, reply.DurationSeconds, 0.001)
	assert.Equal(t, requestEvent.Header.WorkflowID, reply.Header.WorkflowID)

	artifact, err := store.Download(context.Background(), reply.ArtifactKey)
	require.NoError(t, err)

	duration, err := wav.Probe(artifact)
	require.NoError(t, err)
	assert.InEpsilon(t, 1.5, duration, 0.001)
}

func TestHandleSynthesis_MalformedScript(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	require.NoError(t, store.Upload(
		context.Background(),
		"scripts/bad.json",
		[]byte(`[{"type": "pause"}]`),
	))

	requestEvent := worker.ChapterSynthesisRequestedEvent{
		Header:          testHeader(),
		StoryID:         "story-1",
		ChapterNumber:   1,
		ScriptKey:       "scripts/bad.json",
		Voices:          testVoices(),
		Overrides:       nil,
		Groups:          nil,
		DefaultLanguage: "",
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSynthesisSubject, eventData, 10*time.Second)
	require.NoError(t, err)

	var reply worker.ChapterAudioCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Equal(t, worker.FailureMalformedScript, reply.FailureKind)
	assert.NotEmpty(t, reply.Error)
	assert.Empty(t, reply.ArtifactKey)
}

func TestHandleSynthesis_UnresolvedSpeaker(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	require.NoError(t, store.Upload(
		context.Background(),
		"scripts/ghost.json",
		[]byte(`[{"type": "line", "speaker": "GHOST", "text": "Boo."}]`),
	))

	requestEvent := worker.ChapterSynthesisRequestedEvent{
		Header:          testHeader(),
		StoryID:         "story-1",
		ChapterNumber:   1,
		ScriptKey:       "scripts/ghost.json",
		Voices:          testVoices(),
		Overrides:       nil,
		Groups:          nil,
		DefaultLanguage: "",
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testSynthesisSubject, eventData, 10*time.Second)
	require.NoError(t, err)

	var reply worker.ChapterAudioCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Equal(t, worker.FailureUnresolvedSpeaker, reply.FailureKind)
}

func TestHandleSynthesis_PublishesProgress(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	progressChan := make(chan worker.ChapterProgressEvent, 16)

	progressSub, err := natsConnection.Subscribe(testProgressSubject, func(msg *nats.Msg) {
		var progressEvent worker.ChapterProgressEvent
		if unmarshalErr := json.Unmarshal(msg.Data, &progressEvent); unmarshalErr == nil {
			progressChan <- progressEvent
		}
	})
	require.NoError(t, err)

	defer func() {
		require.NoError(t, progressSub.Unsubscribe())
	}()

	require.NoError(t, store.Upload(
		context.Background(),
		"scripts/ch1.json",
		[]byte(`[{"type": "line", "speaker": "MAX", "text": "Guten Morgen!"}]`),
	))

	requestEvent := worker.ChapterSynthesisRequestedEvent{
		Header:          testHeader(),
		StoryID:         "story-1",
		ChapterNumber:   1,
		ScriptKey:       "scripts/ch1.json",
		Voices:          testVoices(),
		Overrides:       nil,
		Groups:          nil,
		DefaultLanguage: "",
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	_, err = natsConnection.Request(testSynthesisSubject, eventData, 10*time.Second)
	require.NoError(t, err)

	select {
	case progressEvent := <-progressChan:
		assert.Equal(t, "story-1", progressEvent.StoryID)
		assert.Equal(t, 1, progressEvent.ChapterNumber)
		assert.Equal(t, 1, progressEvent.Total)
	case <-time.After(5 * time.Second):
		t.Fatal("no progress event received")
	}
}

func TestHandleCombine_Success(t *testing.T) {
	t.Parallel()

	workerInstance, store, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	// Export one chapter directly so the combine has an artifact to read.
	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	exporter := export.NewExporter(store, testLogger)

	format := wav.DefaultFormat()
	_, err = exporter.Export(context.Background(), "story-1", 1, &assemble.Track{
		PCM:      make([]byte, format.ByteRate()*2),
		Seconds:  2.0,
		Segments: 1,
		Format:   format,
	})
	require.NoError(t, err)

	requestEvent := worker.StoryCombineRequestedEvent{
		Header:   testHeader(),
		StoryID:  "story-1",
		Chapters: []int{1},
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testCombineSubject, eventData, 10*time.Second)
	require.NoError(t, err)

	var reply worker.StoryCombinedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Empty(t, reply.FailureKind)
	assert.NotEmpty(t, reply.DownloadKey)
	assert.InEpsilon(t, 2.0, reply.DurationSeconds, 0.001)

	combined, err := store.Download(context.Background(), reply.DownloadKey)
	require.NoError(t, err)

	duration, err := wav.Probe(combined)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.0, duration, 0.001)
}

func TestHandleCombine_MissingChapter(t *testing.T) {
	t.Parallel()

	workerInstance, _, natsConnection := setupTest(t)
	startWorker(t, workerInstance, natsConnection)

	requestEvent := worker.StoryCombineRequestedEvent{
		Header:   testHeader(),
		StoryID:  "story-1",
		Chapters: []int{7},
	}
	eventData, err := json.Marshal(requestEvent)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(testCombineSubject, eventData, 10*time.Second)
	require.NoError(t, err)

	var reply worker.StoryCombinedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Equal(t, worker.FailureMissingChapterArtifact, reply.FailureKind)
	assert.Empty(t, reply.DownloadKey)
}
