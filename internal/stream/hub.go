package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

var ErrNotFound = errors.New("task stream not available")

// Hub owns one ordered, closable frame log per task. Every subscriber reads
// the log from the start with its own cursor, so a late subscriber still sees
// task_queued.
type Hub struct {
	mu        sync.Mutex
	streams   map[string]*taskStream
	retention time.Duration
}

type taskStream struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	notify chan struct{}
}

// NewHub keeps closed streams subscribable for retention before dropping
// them. A zero retention drops a stream the moment it is closed.
func NewHub(retention time.Duration) *Hub {
	if retention < 0 {
		retention = 0
	}
	return &Hub{
		streams:   make(map[string]*taskStream),
		retention: retention,
	}
}

// Open creates the stream for taskID. Opening an existing stream is a no-op.
func (h *Hub) Open(taskID string) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[taskID]; ok {
		return
	}
	h.streams[taskID] = &taskStream{notify: make(chan struct{})}
}

// Publish appends payload to the task's stream. Missing or closed streams are
// ignored: producers must never fail because a consumer went away.
func (h *Hub) Publish(taskID string, payload any) error {
	st := h.lookup(taskID)
	if st == nil {
		return nil
	}
	frame, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encode stream payload: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil
	}
	st.frames = append(st.frames, frame)
	close(st.notify)
	st.notify = make(chan struct{})
	return nil
}

// Close ends the task's stream. Readers drain what is buffered and then see
// their channel close. Closing twice is harmless.
func (h *Hub) Close(taskID string) {
	taskID = strings.TrimSpace(taskID)
	st := h.lookup(taskID)
	if st == nil {
		return
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	close(st.notify)
	st.mu.Unlock()

	if h.retention == 0 {
		h.evict(taskID, st)
		return
	}
	time.AfterFunc(h.retention, func() { h.evict(taskID, st) })
}

// Subscribe returns a channel of encoded frames in publish order. The channel
// is closed after the last frame of a closed stream, or when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, taskID string) (<-chan []byte, error) {
	st := h.lookup(taskID)
	if st == nil {
		return nil, ErrNotFound
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		cursor := 0
		for {
			st.mu.Lock()
			if cursor < len(st.frames) {
				frame := st.frames[cursor]
				cursor++
				st.mu.Unlock()
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
				continue
			}
			if st.closed {
				st.mu.Unlock()
				return
			}
			wait := st.notify
			st.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Len reports how many streams are currently held, closed-but-retained ones
// included.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func (h *Hub) lookup(taskID string) *taskStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[strings.TrimSpace(taskID)]
}

func (h *Hub) evict(taskID string, st *taskStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[taskID] == st {
		delete(h.streams, taskID)
	}
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	default:
		return sonic.Marshal(v)
	}
}
