package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/antoniostano/browsercloud/internal/archive"
	"github.com/antoniostano/browsercloud/internal/config"
	"github.com/antoniostano/browsercloud/internal/endpoint"
	"github.com/antoniostano/browsercloud/internal/engine"
	"github.com/antoniostano/browsercloud/internal/httpapi"
	"github.com/antoniostano/browsercloud/internal/observability"
	"github.com/antoniostano/browsercloud/internal/session"
	"github.com/antoniostano/browsercloud/internal/stream"
	"github.com/antoniostano/browsercloud/internal/taskruntime"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Pool        *endpoint.Pool
	Sessions    *session.Manager
	Tasks       *tasks.Manager
	TaskService *taskruntime.Service
	Metrics     *observability.Metrics
	Modes       httpapi.Modes

	// Cleanup drains running tasks and flushes the archive. Call it once on shutdown.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	pool, err := endpoint.NewPool(endpoint.LoadSet(cfg.EndpointsJSON, cfg.EndpointsFile))
	if err != nil {
		return nil, fmt.Errorf("endpoint pool init failed: %w", err)
	}

	sessions := session.NewManager(pool)
	sessions.SetStopHook(func(s *session.Session) {
		log.Printf("session: stopped %s (endpoint %s)", s.ID, s.EndpointID)
	})
	metrics.TrackActiveSessions(sessions.ActiveCount)

	taskManager := tasks.NewManager(sessions)

	archiver, archiveMode, err := archive.New(ctx, archive.Config{
		Mode:        cfg.ArchiveMode,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		TTL:         cfg.ArchiveTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	sink := archive.NewSink(archiver, metrics)
	taskManager.SetTerminalHook(sink.Record)

	eng, engineMode, err := engine.NewEngine(engine.Config{
		Mode:          cfg.EngineMode,
		HTTPURL:       cfg.EngineHTTPURL,
		HTTPToken:     cfg.EngineHTTPToken,
		HTTPRetries:   cfg.EngineRetries,
		MockStepDelay: cfg.EngineMockStepDelay,
		ProbeEnabled:  cfg.EngineProbe,
		ProbeTimeout:  cfg.EngineProbeTimeout,
	})
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	streams := stream.NewHub(cfg.StreamRetention)
	taskService := taskruntime.New(taskruntime.Config{
		DefaultMaxSteps: cfg.DefaultMaxSteps,
		MaxStepsLimit:   cfg.MaxStepsLimit,
		TaskTimeout:     cfg.TaskTimeout,
	}, sessions, taskManager, streams, eng, metrics)

	modes := httpapi.Modes{Engine: engineMode, Archive: archiveMode}
	api := httpapi.New(cfg, pool, sessions, taskService, metrics, modes)

	log.Printf("app: %d browser endpoints, engine=%s archive=%s", pool.Len(), engineMode, archiveMode)
	if pool.Len() == 0 {
		log.Printf("app: no browser endpoints configured; session allocation will fail")
	}

	cleanup := func(ctx context.Context) error {
		var errs []string
		if err := taskService.Close(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("task service: %v", err))
		}
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("archive: %v", err))
		}
		if len(errs) == 0 {
			return nil
		}
		return errors.New(strings.Join(errs, "; "))
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Pool:        pool,
		Sessions:    sessions,
		Tasks:       taskManager,
		TaskService: taskService,
		Metrics:     metrics,
		Modes:       modes,
		Cleanup:     cleanup,
	}, nil
}
