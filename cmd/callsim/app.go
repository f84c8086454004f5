package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/callsim/pkg/core/analysis"
	"github.com/vango-go/callsim/pkg/core/calls"
	"github.com/vango-go/callsim/pkg/core/scenario"
	"github.com/vango-go/callsim/pkg/core/voice/tts"
	"github.com/vango-go/callsim/pkg/gateway/config"
	gatewayserver "github.com/vango-go/callsim/pkg/gateway/server"
	"github.com/vango-go/callsim/pkg/store"
	"github.com/vango-go/callsim/pkg/store/artifacts"
	"github.com/vango-go/callsim/pkg/store/postgres"
	"github.com/vango-go/callsim/pkg/store/sqlite"
)

type features struct {
	synthesis   bool
	persistence bool
	analysis    bool
}

// app owns the collaborators behind the gateway and releases them on close.
type app struct {
	server    *gatewayserver.Server
	features  features
	scenarios int
	closers   []func() error
}

func (a *app) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close", "error", err)
		}
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close(logger)
		return nil, err
	}

	catalog, err := scenario.LoadFile(cfg.ScenarioFile)
	if err != nil {
		return fail(err)
	}
	a.scenarios = catalog.Len()

	callStore, err := openCallStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if callStore != nil {
		a.closers = append(a.closers, callStore.Close)
	}

	artifactStore, err := openArtifactStore(cfg)
	if err != nil {
		return fail(err)
	}

	provider := tts.NewElevenLabsWithClient(cfg.ElevenLabsAPIKey, &http.Client{Timeout: cfg.TTSTimeout}).
		WithBaseURL(cfg.ElevenLabsBaseURL).
		WithModel(cfg.ElevenLabsModel)
	queue := tts.NewQueue(provider, cfg.TTSMinGap)
	a.closers = append(a.closers, func() error { queue.Close(); return nil })
	a.features.synthesis = provider.Configured()
	if !a.features.synthesis {
		logger.Warn("CALLSIM_ELEVENLABS_API_KEY not set; assistant audio disabled")
	}

	var analyzer analysis.Analyzer
	gemini, err := analysis.NewGemini(ctx, cfg.GeminiAPIKey, cfg.AnalysisModel)
	switch {
	case err == nil:
		analyzer = gemini
		a.features.analysis = true
	case errors.Is(err, analysis.ErrNotConfigured):
		logger.Info("CALLSIM_GEMINI_API_KEY not set; transcript analysis disabled")
	default:
		return fail(fmt.Errorf("init analysis: %w", err))
	}

	var recorder *calls.Recorder
	if callStore != nil || artifactStore != nil {
		deps := calls.Deps{
			Logger:    logger,
			Store:     callStore,
			Artifacts: artifactStore,
			Analyzer:  analyzer,
		}
		recorder = calls.NewRecorder(deps)
	}
	a.features.persistence = recorder.Enabled()

	a.server = gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Store:            callStore,
		Recorder:         recorder,
		Synthesizer:      queue,
		SynthesisEnabled: a.features.synthesis,
		AnalysisEnabled:  a.features.analysis,
		Scenarios:        catalog,
	})
	return a, nil
}

// openCallStore returns nil when CALLSIM_DATABASE_URL is empty.
func openCallStore(ctx context.Context, cfg config.Config) (store.CallStore, error) {
	driver, dsn, err := cfg.Database()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	switch driver {
	case config.DatabasePostgres:
		s, err := postgres.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DatabaseSQLite:
		s, err := sqlite.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// openArtifactStore prefers S3 over a local directory; nil when neither is
// configured.
func openArtifactStore(cfg config.Config) (artifacts.Store, error) {
	switch {
	case cfg.S3Bucket != "":
		s, err := artifacts.NewS3(artifacts.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.ArtifactBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.ArtifactDir != "":
		l, err := artifacts.NewLocal(cfg.ArtifactDir, cfg.ArtifactBaseURL)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, nil
	}
}
