package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/browsercloud/internal/observability"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

// Archiver receives every task once it reaches a terminal status. Nothing in
// the service reads archived tasks back.
type Archiver interface {
	Archive(ctx context.Context, task tasks.Task) error
	Close() error
}

type Config struct {
	Mode        string
	DatabaseURL string
	RedisURL    string
	TTL         time.Duration
}

// New opens the configured archiver and reports the resolved mode.
func New(ctx context.Context, cfg Config) (Archiver, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		switch {
		case strings.TrimSpace(cfg.DatabaseURL) != "":
			mode = "postgres"
		case strings.TrimSpace(cfg.RedisURL) != "":
			mode = "redis"
		default:
			mode = "none"
		}
	}

	switch mode {
	case "none":
		return Noop{}, mode, nil
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, "", errors.New("DATABASE_URL is required for postgres archive")
		}
		a, err := NewPostgresArchive(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return a, mode, nil
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, "", errors.New("REDIS_URL is required for redis archive")
		}
		a, err := NewRedisArchive(ctx, cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, "", err
		}
		return a, mode, nil
	default:
		return nil, "", fmt.Errorf("unsupported archive mode %q", cfg.Mode)
	}
}

type Noop struct{}

func (Noop) Archive(context.Context, tasks.Task) error { return nil }
func (Noop) Close() error                              { return nil }

const writeTimeout = 5 * time.Second

// Sink writes terminal tasks in the background so a slow archive never holds
// up a runner.
type Sink struct {
	archiver Archiver
	metrics  *observability.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewSink(archiver Archiver, metrics *observability.Metrics) *Sink {
	if archiver == nil {
		archiver = Noop{}
	}
	return &Sink{archiver: archiver, metrics: metrics}
}

// Record is shaped to be registered as the task manager's terminal hook.
// Tasks recorded after Close are dropped.
func (s *Sink) Record(task tasks.Task) {
	if _, ok := s.archiver.(Noop); ok {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("archive: sink closed, dropping task %s", task.ID)
		s.metrics.ObserveArchive("dropped")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.archiver.Archive(ctx, task); err != nil {
			log.Printf("archive: task %s: %v", task.ID, err)
			s.metrics.ObserveArchive("error")
			return
		}
		s.metrics.ObserveArchive("ok")
	}()
}

// Close waits for in-flight writes and releases the archiver.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
	return s.archiver.Close()
}
