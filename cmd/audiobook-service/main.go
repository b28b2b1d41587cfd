// main package for the audiobook-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/config"
	"github.com/lingolou/audiobook-service/internal/elevenlabs"
	"github.com/lingolou/audiobook-service/internal/engine"
	"github.com/lingolou/audiobook-service/internal/export"
	"github.com/lingolou/audiobook-service/internal/objectstore"
	"github.com/lingolou/audiobook-service/internal/synth"
	"github.com/lingolou/audiobook-service/internal/voice"
	"github.com/lingolou/audiobook-service/internal/wav"
	"github.com/lingolou/audiobook-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "audiobook-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// A temporary logger covers startup until the configured one exists.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve wires the pipeline and blocks until shutdown.
func serve(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.NewNatsObjectStore(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		return fmt.Errorf("failed to open artifact bucket: %w", err)
	}

	client := elevenlabs.New(
		cfg.Synthesis.ServiceURL,
		cfg.Synthesis.APIKey,
		cfg.Synthesis.ModelID,
		cfg.Synthesis.OutputFormat,
		cfg.Synthesis.Timeout(),
	)

	dispatcher := synth.New(
		client,
		elevenlabs.IsTransient,
		cfg.Synthesis.Workers,
		cfg.Synthesis.MaxAttempts,
		cfg.Synthesis.RetryBackoff(),
		log,
	)

	assembler := assemble.New(wav.DefaultFormat(), assemble.Options{
		SceneSeconds:       cfg.Audio.SceneSeconds,
		SFXSeconds:         cfg.Audio.SFXSeconds,
		PerformanceSeconds: cfg.Audio.PerformanceSeconds,
		MixHeadroom:        cfg.Audio.MixHeadroom,
	})

	exporter := export.NewExporter(store, log)
	combiner := export.NewCombiner(store, log)
	emotions := voice.NewEmotionMapper(voice.DefaultEmotionTable())

	eng := engine.New(dispatcher, assembler, exporter, emotions, nil, log)

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.ChapterSynthesisSubject,
		cfg.NATS.StoryCombineSubject,
		cfg.NATS.ProgressSubject,
		store,
		eng,
		combiner,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.System(
		"Audiobook service initialized. Listening on %s and %s",
		cfg.NATS.ChapterSynthesisSubject,
		cfg.NATS.StoryCombineSubject,
	)

	runErr := natsWorker.Run(ctx)
	if runErr != nil {
		return fmt.Errorf("worker stopped with error: %w", runErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
