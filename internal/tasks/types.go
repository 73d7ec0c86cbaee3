package tasks

import "time"

type TaskStatus string

const (
	TaskStatusQueued   TaskStatus = "queued"
	TaskStatusStarted  TaskStatus = "started"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusError    TaskStatus = "error"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusFinished || s == TaskStatusError
}

// next reports whether to directly follows s in the lifecycle
// queued -> started -> finished|error.
func (s TaskStatus) next(to TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return to == TaskStatusStarted
	case TaskStatusStarted:
		return to.Terminal()
	default:
		return false
	}
}

// TaskStep is one progress snapshot reported by the execution engine.
type TaskStep struct {
	Number int    `json:"number"`
	Memory string `json:"memory"`
	URL    string `json:"url"`
}

type Task struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Description string     `json:"description"`
	MaxSteps    int        `json:"maxSteps"`
	Status      TaskStatus `json:"status"`
	Output      *string    `json:"output"`
	Steps       []TaskStep `json:"steps"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// View is the polling projection returned by GET /tasks/{id}.
type View struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Output      *string    `json:"output"`
	Steps       []TaskStep `json:"steps"`
}

func (t Task) View() View {
	steps := t.Steps
	if steps == nil {
		steps = []TaskStep{}
	}
	return View{
		ID:          t.ID,
		SessionID:   t.SessionID,
		Description: t.Description,
		Status:      t.Status,
		Output:      t.Output,
		Steps:       steps,
	}
}

type CreateRequest struct {
	Description string `json:"description"`
	SessionID   string `json:"sessionId"`
	MaxSteps    int    `json:"maxSteps"`
}

type EventType string

const (
	EventTaskQueued   EventType = "task_queued"
	EventTaskStarted  EventType = "task_started"
	EventTaskStep     EventType = "task_step"
	EventTaskFinished EventType = "task_finished"
	EventTaskError    EventType = "task_error"
)

// Event is the payload published on a task's stream.
type Event struct {
	Event     EventType `json:"event"`
	TaskID    string    `json:"taskId"`
	SessionID string    `json:"sessionId,omitempty"`
	Output    string    `json:"output,omitempty"`
	Message   string    `json:"message,omitempty"`
	Step      *TaskStep `json:"step,omitempty"`
}

func (t Task) Clone() Task {
	out := t
	if t.Steps != nil {
		out.Steps = make([]TaskStep, len(t.Steps))
		copy(out.Steps, t.Steps)
	}
	if t.Output != nil {
		o := *t.Output
		out.Output = &o
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		out.StartedAt = &s
	}
	if t.EndedAt != nil {
		e := *t.EndedAt
		out.EndedAt = &e
	}
	return out
}

func (t Task) Terminal() bool {
	return t.Status.Terminal()
}
