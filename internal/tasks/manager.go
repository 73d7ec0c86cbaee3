package tasks

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/browsercloud/internal/session"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTaskState  = errors.New("invalid task state")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrEmptyDescription  = errors.New("task description is required")
)

const (
	defaultFinishedOutput = "Task finished with no output."
	defaultErrorOutput    = "error: EngineError: task failed without detail"
)

// SessionLookup resolves active sessions. A stopped session is reported as
// session.ErrNotFound.
type SessionLookup interface {
	Get(sessionID string) (*session.Session, error)
}

type Manager struct {
	mu sync.RWMutex

	sessions       SessionLookup
	tasks          map[string]*Task
	tasksBySession map[string][]string
	onTerminal     func(Task)
}

func NewManager(sessions SessionLookup) *Manager {
	return &Manager{
		sessions:       sessions,
		tasks:          make(map[string]*Task),
		tasksBySession: make(map[string][]string),
	}
}

// SetTerminalHook registers a callback run, outside the lock, after a task
// reaches finished or error.
func (m *Manager) SetTerminalHook(hook func(Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = hook
}

// Create stores a queued task on an active session.
func (m *Manager) Create(sessionID, description string, maxSteps int) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, ErrEmptyDescription
	}
	if maxSteps <= 0 {
		return Task{}, fmt.Errorf("%w: maxSteps must be positive", ErrInvalidTaskState)
	}
	sess, err := m.sessions.Get(sessionID)
	if err != nil {
		return Task{}, err
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		Description: description,
		MaxSteps:    maxSteps,
		Status:      TaskStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	m.tasksBySession[task.SessionID] = append(m.tasksBySession[task.SessionID], task.ID)
	return task.Clone(), nil
}

func (m *Manager) Get(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List returns a session's tasks, newest first. An empty sessionID lists all.
func (m *Manager) List(sessionID string) []Task {
	sessionID = strings.TrimSpace(sessionID)

	m.mu.RLock()
	var out []Task
	if sessionID == "" {
		out = make([]Task, 0, len(m.tasks))
		for _, t := range m.tasks {
			out = append(out, t.Clone())
		}
	} else {
		ids := m.tasksBySession[sessionID]
		out = make([]Task, 0, len(ids))
		for _, id := range ids {
			if t, ok := m.tasks[id]; ok {
				out = append(out, t.Clone())
			}
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Transition moves a task one step along queued -> started -> finished|error.
// Anything else is a programming error: it is logged and leaves the task
// untouched. Output is recorded only on the terminal transition.
func (m *Manager) Transition(taskID string, to TaskStatus, output string) (Task, error) {
	taskID = strings.TrimSpace(taskID)
	now := time.Now().UTC()

	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return Task{}, ErrTaskNotFound
	}
	if !task.Status.next(to) {
		from := task.Status
		snapshot := task.Clone()
		m.mu.Unlock()
		log.Printf("tasks: rejected transition %s -> %s for task %s", from, to, taskID)
		return snapshot, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	task.Status = to
	task.UpdatedAt = now
	var hook func(Task)
	switch to {
	case TaskStatusStarted:
		task.StartedAt = &now
	case TaskStatusFinished, TaskStatusError:
		out := strings.TrimSpace(output)
		if out == "" {
			out = defaultFinishedOutput
			if to == TaskStatusError {
				out = defaultErrorOutput
			}
		}
		task.Output = &out
		task.EndedAt = &now
		hook = m.onTerminal
	}
	snapshot := task.Clone()
	m.mu.Unlock()

	if hook != nil {
		hook(snapshot.Clone())
	}
	return snapshot, nil
}

// AppendStep records engine progress. Only a started task accepts steps; a
// step without a number is numbered after the last one.
func (m *Manager) AppendStep(taskID string, step TaskStep) (TaskStep, error) {
	taskID = strings.TrimSpace(taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return TaskStep{}, ErrTaskNotFound
	}
	if task.Status != TaskStatusStarted {
		return TaskStep{}, fmt.Errorf("%w: steps are only accepted while started (status %s)", ErrInvalidTaskState, task.Status)
	}
	if step.Number <= 0 {
		step.Number = len(task.Steps) + 1
	}
	task.Steps = append(task.Steps, step)
	task.UpdatedAt = time.Now().UTC()
	return step, nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
