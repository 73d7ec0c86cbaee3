package taskruntime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/browsercloud/internal/engine"
	"github.com/antoniostano/browsercloud/internal/observability"
	"github.com/antoniostano/browsercloud/internal/policy"
	"github.com/antoniostano/browsercloud/internal/session"
	"github.com/antoniostano/browsercloud/internal/stream"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

var (
	ErrInvalidMaxSteps = errors.New("maxSteps must be a positive integer")
	ErrShuttingDown    = errors.New("task runtime is shutting down")
)

type Config struct {
	DefaultMaxSteps int
	MaxStepsLimit   int
	// TaskTimeout bounds a single run once it has started. Zero disables it.
	TaskTimeout time.Duration
}

// Service accepts tasks, runs each on its session's browser in a background
// goroutine and publishes lifecycle events to the task's stream.
type Service struct {
	cfg      Config
	sessions *session.Manager
	tasks    *tasks.Manager
	streams  *stream.Hub
	engine   engine.Engine
	metrics  *observability.Metrics

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	slots          map[string]*sessionSlot
	runningCancels map[string]context.CancelFunc
}

// sessionSlot serializes runs on one session. refs counts holders and
// waiters so the entry can be dropped when the session goes idle.
type sessionSlot struct {
	ch   chan struct{}
	refs int
}

func New(cfg Config, sessions *session.Manager, taskManager *tasks.Manager, streams *stream.Hub, eng engine.Engine, metrics *observability.Metrics) *Service {
	if cfg.DefaultMaxSteps <= 0 {
		cfg.DefaultMaxSteps = 100
	}
	if cfg.MaxStepsLimit <= 0 {
		cfg.MaxStepsLimit = 500
	}
	if cfg.DefaultMaxSteps > cfg.MaxStepsLimit {
		cfg.DefaultMaxSteps = cfg.MaxStepsLimit
	}
	if cfg.TaskTimeout < 0 {
		cfg.TaskTimeout = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:            cfg,
		sessions:       sessions,
		tasks:          taskManager,
		streams:        streams,
		engine:         eng,
		metrics:        metrics,
		baseCtx:        ctx,
		cancelAll:      cancel,
		slots:          make(map[string]*sessionSlot),
		runningCancels: make(map[string]context.CancelFunc),
	}
}

// CreateTask resolves (or allocates) the session, stores a queued task,
// publishes task_queued and schedules the run. It returns as soon as the task
// is queued.
func (s *Service) CreateTask(ctx context.Context, req tasks.CreateRequest) (tasks.Task, session.Resolution, error) {
	if strings.TrimSpace(req.Description) == "" {
		return tasks.Task{}, session.Resolution{}, tasks.ErrEmptyDescription
	}
	maxSteps, err := s.maxSteps(req.MaxSteps)
	if err != nil {
		return tasks.Task{}, session.Resolution{}, err
	}

	// The runner slot is reserved under the lock so Close never waits on a
	// group that is still growing.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return tasks.Task{}, session.Resolution{}, ErrShuttingDown
	}
	s.wg.Add(1)
	s.mu.Unlock()
	scheduled := false
	defer func() {
		if !scheduled {
			s.wg.Done()
		}
	}()

	// A caller that already gave up gets nothing allocated on its behalf.
	if err := ctx.Err(); err != nil {
		return tasks.Task{}, session.Resolution{}, err
	}
	res, err := s.sessions.Resolve(req.SessionID)
	if err != nil {
		return tasks.Task{}, session.Resolution{}, err
	}
	if res.Origin == session.OriginCreated {
		s.metrics.ObserveAllocation(res.Session.EndpointID)
		s.metrics.ObserveSessionEvent("created")
	}

	task, err := s.tasks.Create(res.Session.ID, req.Description, maxSteps)
	if err != nil {
		return tasks.Task{}, res, err
	}

	s.streams.Open(task.ID)
	s.publish(tasks.Event{Event: tasks.EventTaskQueued, TaskID: task.ID, SessionID: task.SessionID})

	scheduled = true
	go s.run(task, res.Session)
	return task, res, nil
}

func (s *Service) maxSteps(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidMaxSteps, requested)
	case requested == 0:
		return s.cfg.DefaultMaxSteps, nil
	case requested > s.cfg.MaxStepsLimit:
		return s.cfg.MaxStepsLimit, nil
	default:
		return requested, nil
	}
}

func (s *Service) run(task tasks.Task, sess *session.Session) {
	defer s.wg.Done()
	// Registered first so the stream closes after every other deferred step.
	defer s.streams.Close(task.ID)

	waitCtx, cancelWait := context.WithCancel(s.baseCtx)
	defer cancelWait()

	queuedAt := time.Now()
	release, waitErr := s.acquireSlot(waitCtx, sess.ID)
	defer release()
	s.metrics.ObserveStage("queue_wait", time.Since(queuedAt))
	if waitErr == nil {
		s.setRunningCancel(task.ID, cancelWait)
		defer s.clearRunningCancel(task.ID)
	}

	if _, err := s.tasks.Transition(task.ID, tasks.TaskStatusStarted, ""); err != nil {
		log.Printf("taskruntime: start task %s: %v", task.ID, err)
		return
	}
	s.publish(tasks.Event{Event: tasks.EventTaskStarted, TaskID: task.ID, SessionID: task.SessionID})

	var outcome engine.Outcome
	startedAt := time.Now()
	if waitErr != nil {
		outcome = engine.FailedFromError(waitCtx, waitErr)
	} else {
		runCtx := waitCtx
		if s.cfg.TaskTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(waitCtx, s.cfg.TaskTimeout)
			defer cancel()
		}
		if s.metrics != nil {
			s.metrics.RunningTasks.Inc()
		}
		outcome = s.execute(runCtx, engine.Request{
			TaskID:            task.ID,
			SessionID:         task.SessionID,
			Description:       task.Description,
			ConnectionAddress: sess.ConnectionAddress,
			MaxSteps:          task.MaxSteps,
		}, s.stepHandler(task))
		if s.metrics != nil {
			s.metrics.RunningTasks.Dec()
		}
	}
	s.metrics.ObserveStage("run_total", time.Since(startedAt))
	s.finish(task, outcome)
}

// execute runs the engine, converting panics and context expiry into
// classified failures.
func (s *Service) execute(ctx context.Context, req engine.Request, onStep engine.StepHandler) (out engine.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("taskruntime: engine panic on task %s: %v", req.TaskID, r)
			out = engine.Failed(engine.KindEngine, fmt.Sprintf("engine panic: %v", r))
		}
	}()

	out = s.engine.Execute(ctx, req, onStep)
	if out.Failed() {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			out.Failure.Kind = engine.KindTimeout
		case errors.Is(ctx.Err(), context.Canceled):
			out.Failure.Kind = engine.KindCancelled
		}
	}
	return out
}

func (s *Service) stepHandler(task tasks.Task) engine.StepHandler {
	last := time.Now()
	return func(step engine.Step) {
		recorded, err := s.tasks.AppendStep(task.ID, tasks.TaskStep{
			Number: step.Number,
			Memory: step.Memory,
			URL:    policy.Redact(step.URL),
		})
		if err != nil {
			log.Printf("taskruntime: drop step for task %s: %v", task.ID, err)
			return
		}
		now := time.Now()
		s.metrics.ObserveStep()
		s.metrics.ObserveStage("step_interval", now.Sub(last))
		last = now
		s.publish(tasks.Event{Event: tasks.EventTaskStep, TaskID: task.ID, SessionID: task.SessionID, Step: &recorded})
	}
}

func (s *Service) finish(task tasks.Task, outcome engine.Outcome) {
	if !outcome.Failed() {
		done, err := s.tasks.Transition(task.ID, tasks.TaskStatusFinished, policy.Redact(outcome.Output))
		if err != nil {
			log.Printf("taskruntime: finish task %s: %v", task.ID, err)
			return
		}
		s.publish(tasks.Event{Event: tasks.EventTaskFinished, TaskID: task.ID, SessionID: task.SessionID, Output: deref(done.Output)})
		return
	}

	kind := string(outcome.Failure.Kind)
	message := policy.Redact(fmt.Sprintf("error: %s: %s", kind, outcome.Failure.Message))
	failed, err := s.tasks.Transition(task.ID, tasks.TaskStatusError, message)
	if err != nil {
		log.Printf("taskruntime: fail task %s: %v", task.ID, err)
		return
	}
	log.Printf("taskruntime: task %s failed: %s", task.ID, message)
	s.metrics.ObserveTaskFailure(kind)
	s.publish(tasks.Event{Event: tasks.EventTaskError, TaskID: task.ID, SessionID: task.SessionID, Message: deref(failed.Output)})
}

func (s *Service) publish(ev tasks.Event) {
	if err := s.streams.Publish(ev.TaskID, ev); err != nil {
		log.Printf("taskruntime: publish %s for task %s: %v", ev.Event, ev.TaskID, err)
	}
	s.metrics.ObserveTaskEvent(string(ev.Event))
}

// acquireSlot waits until no other task is running on the session. The
// returned release func must always be called; it frees the slot when it was
// taken and drops the session's entry once nobody holds or waits for it.
func (s *Service) acquireSlot(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	slot, ok := s.slots[sessionID]
	if !ok {
		slot = &sessionSlot{ch: make(chan struct{}, 1)}
		s.slots[sessionID] = slot
	}
	slot.refs++
	s.mu.Unlock()

	var acquired bool
	var err error
	select {
	case slot.ch <- struct{}{}:
		acquired = true
	case <-ctx.Done():
		err = ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if acquired {
				<-slot.ch
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			slot.refs--
			if slot.refs == 0 && s.slots[sessionID] == slot {
				delete(s.slots, sessionID)
			}
		})
	}, err
}

func (s *Service) GetTask(taskID string) (tasks.Task, error) {
	return s.tasks.Get(taskID)
}

func (s *Service) ListTasks(sessionID string) []tasks.Task {
	return s.tasks.List(sessionID)
}

// Subscribe attaches to a task's event stream. Unknown tasks report
// tasks.ErrTaskNotFound; tasks whose stream has been evicted report
// stream.ErrNotFound.
func (s *Service) Subscribe(ctx context.Context, taskID string) (<-chan []byte, error) {
	if _, err := s.tasks.Get(taskID); err != nil {
		return nil, err
	}
	return s.streams.Subscribe(ctx, taskID)
}

// RunningCount reports tasks that hold their session's slot, excluding those
// still queued behind another task.
func (s *Service) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningCancels)
}

func (s *Service) setRunningCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningCancels[taskID] = cancel
}

func (s *Service) clearRunningCancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningCancels, taskID)
}

// Close stops accepting tasks, cancels queued and running ones and waits for
// their runners to record the outcome.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for task runners: %w", ctx.Err())
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
