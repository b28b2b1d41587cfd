// audiobook-cli synthesizes a single chapter locally, without the NATS
// service surface: script and voice map come from JSON files and the chapter
// audio lands in a local WAV file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/book-expert/logger"

	"github.com/lingolou/audiobook-service/internal/assemble"
	"github.com/lingolou/audiobook-service/internal/config"
	"github.com/lingolou/audiobook-service/internal/elevenlabs"
	"github.com/lingolou/audiobook-service/internal/engine"
	"github.com/lingolou/audiobook-service/internal/export"
	"github.com/lingolou/audiobook-service/internal/objectstore"
	"github.com/lingolou/audiobook-service/internal/synth"
	"github.com/lingolou/audiobook-service/internal/voice"
	"github.com/lingolou/audiobook-service/internal/wav"
)

// Flag names.
const (
	flagScript  = "script"
	flagVoices  = "voices"
	flagGroups  = "groups"
	flagOutput  = "output"
	flagStory   = "story"
	flagChapter = "chapter"
	flagHealth  = "health"
)

// Flag descriptions.
const (
	flagScriptDesc  = "Chapter script JSON file"
	flagVoicesDesc  = "Speaker voice map JSON file"
	flagGroupsDesc  = "Optional group-alias JSON file (alias -> member list)"
	flagOutputDesc  = "Output file path (.wav)"
	flagStoryDesc   = "Story identifier used in artifact keys"
	flagChapterDesc = "Chapter number"
	flagHealthDesc  = "Check voice service health and exit"
)

// Error and log messages.
const (
	errScriptRequired = "--script, --voices, and --output are required"
	msgServiceHealthy = "voice service is healthy"
	msgChapterDone    = "wrote %s (%.1fs)\n"
)

type cliOptions struct {
	scriptPath  string
	voicesPath  string
	groupsPath  string
	outputPath  string
	storyID     string
	chapter     int
	healthCheck bool
}

func parseFlags() cliOptions {
	var opts cliOptions

	flag.StringVar(&opts.scriptPath, flagScript, "", flagScriptDesc)
	flag.StringVar(&opts.voicesPath, flagVoices, "", flagVoicesDesc)
	flag.StringVar(&opts.groupsPath, flagGroups, "", flagGroupsDesc)
	flag.StringVar(&opts.outputPath, flagOutput, "", flagOutputDesc)
	flag.StringVar(&opts.storyID, flagStory, "local", flagStoryDesc)
	flag.IntVar(&opts.chapter, flagChapter, 1, flagChapterDesc)
	flag.BoolVar(&opts.healthCheck, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return opts
}

func main() {
	opts := parseFlags()

	workLog, err := logger.New(os.TempDir(), "audiobook-cli.log")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.Load(workLog)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	client := elevenlabs.New(
		cfg.Synthesis.ServiceURL,
		cfg.Synthesis.APIKey,
		cfg.Synthesis.ModelID,
		cfg.Synthesis.OutputFormat,
		cfg.Synthesis.Timeout(),
	)

	if opts.healthCheck {
		healthErr := client.HealthCheck(context.Background())
		if healthErr != nil {
			log.Fatalf("Health check failed: %v", healthErr)
		}

		fmt.Println(msgServiceHealthy)

		return
	}

	if opts.scriptPath == "" || opts.voicesPath == "" || opts.outputPath == "" {
		log.Fatal(errScriptRequired)
	}

	err = synthesizeChapter(cfg, client, workLog, opts)
	if err != nil {
		log.Fatalf("Chapter synthesis failed: %v", err)
	}
}

func synthesizeChapter(
	cfg *config.Config,
	client *elevenlabs.Client,
	workLog *logger.Logger,
	opts cliOptions,
) error {
	scriptData, err := os.ReadFile(opts.scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	voicesData, err := os.ReadFile(opts.voicesPath)
	if err != nil {
		return fmt.Errorf("failed to read voice map: %w", err)
	}

	voices, err := voice.LoadVoiceMap(voicesData)
	if err != nil {
		return err
	}

	groups, err := loadGroups(opts.groupsPath)
	if err != nil {
		return err
	}

	storeRoot, err := os.MkdirTemp("", "audiobook-cli-")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(storeRoot)
		if removeErr != nil {
			workLog.Warn("Failed to remove working directory '%s': %v", storeRoot, removeErr)
		}
	}()

	store, err := objectstore.NewFSStore(storeRoot)
	if err != nil {
		return err
	}

	dispatcher := synth.New(
		client,
		elevenlabs.IsTransient,
		cfg.Synthesis.Workers,
		cfg.Synthesis.MaxAttempts,
		cfg.Synthesis.RetryBackoff(),
		workLog,
	)

	assembler := assemble.New(wav.DefaultFormat(), assemble.Options{
		SceneSeconds:       cfg.Audio.SceneSeconds,
		SFXSeconds:         cfg.Audio.SFXSeconds,
		PerformanceSeconds: cfg.Audio.PerformanceSeconds,
		MixHeadroom:        cfg.Audio.MixHeadroom,
	})

	eng := engine.New(
		dispatcher,
		assembler,
		export.NewExporter(store, workLog),
		voice.NewEmotionMapper(voice.DefaultEmotionTable()),
		nil,
		workLog,
	)

	artifact, err := eng.SynthesizeChapter(context.Background(), engine.ChapterRequest{
		StoryID:         opts.storyID,
		ChapterNumber:   opts.chapter,
		Script:          scriptData,
		Voices:          voices,
		Overrides:       nil,
		Groups:          groups,
		DefaultLanguage: cfg.Synthesis.DefaultLanguage,
		Progress:        nil,
	})
	if err != nil {
		return err
	}

	audio, err := store.Download(context.Background(), artifact.Key)
	if err != nil {
		return fmt.Errorf("failed to read exported artifact: %w", err)
	}

	err = os.WriteFile(opts.outputPath, audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf(msgChapterDone, opts.outputPath, artifact.DurationSeconds)

	return nil
}

func loadGroups(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read groups file: %w", err)
	}

	groups, err := voice.LoadGroups(data)
	if err != nil {
		return nil, err
	}

	return groups, nil
}
