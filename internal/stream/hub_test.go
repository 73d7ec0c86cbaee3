package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan []byte, timeout time.Duration) []string {
	t.Helper()
	var out []string
	deadline := time.After(timeout)
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(frame))
		case <-deadline:
			t.Fatalf("stream did not terminate within %s (got %v)", timeout, out)
			return nil
		}
	}
}

func TestHubDeliversInOrderThenTerminates(t *testing.T) {
	h := NewHub(time.Minute)
	h.Open("t1")

	ch, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, h.Publish("t1", map[string]string{"event": "task_queued"}))
	require.NoError(t, h.Publish("t1", map[string]string{"event": "task_started"}))
	h.Close("t1")

	got := drain(t, ch, 2*time.Second)
	assert.Equal(t, []string{`{"event":"task_queued"}`, `{"event":"task_started"}`}, got)
}

func TestHubLateSubscriberSeesBufferedFrames(t *testing.T) {
	h := NewHub(time.Minute)
	h.Open("t1")
	require.NoError(t, h.Publish("t1", "one"))
	require.NoError(t, h.Publish("t1", "two"))
	h.Close("t1")

	ch, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, drain(t, ch, time.Second))
}

func TestHubPublishIgnoresMissingAndClosed(t *testing.T) {
	h := NewHub(time.Minute)
	assert.NoError(t, h.Publish("nope", "x"))

	h.Open("t1")
	h.Close("t1")
	h.Close("t1")
	assert.NoError(t, h.Publish("t1", "late"))

	ch, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, drain(t, ch, time.Second))
}

func TestHubOpenIsIdempotent(t *testing.T) {
	h := NewHub(time.Minute)
	h.Open("t1")
	require.NoError(t, h.Publish("t1", "kept"))
	h.Open("t1")
	h.Close("t1")

	ch, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, drain(t, ch, time.Second))
}

func TestHubSubscribeUnknown(t *testing.T) {
	h := NewHub(time.Minute)
	_, err := h.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHubZeroRetentionEvictsOnClose(t *testing.T) {
	h := NewHub(0)
	h.Open("t1")

	ch, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	require.NoError(t, h.Publish("t1", "last"))
	h.Close("t1")

	assert.Equal(t, 0, h.Len())
	_, err = h.Subscribe(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{"last"}, drain(t, ch, time.Second), "attached reader drains after eviction")
}

func TestHubRetentionEvictsLater(t *testing.T) {
	h := NewHub(30 * time.Millisecond)
	h.Open("t1")
	h.Close("t1")
	assert.Equal(t, 1, h.Len())

	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubSubscriberStopsOnContextCancel(t *testing.T) {
	h := NewHub(time.Minute)
	h.Open("t1")

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Subscribe(ctx, "t1")
	require.NoError(t, err)

	cancel()
	assert.Empty(t, drain(t, ch, time.Second))
}

func TestHubMultipleSubscribersEachSeeEverything(t *testing.T) {
	h := NewHub(time.Minute)
	h.Open("t1")
	a, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)
	b, err := h.Subscribe(context.Background(), "t1")
	require.NoError(t, err)

	go func() {
		for i := 0; i < 50; i++ {
			_ = h.Publish("t1", map[string]int{"n": i})
		}
		h.Close("t1")
	}()

	gotA := drain(t, a, 2*time.Second)
	gotB := drain(t, b, 2*time.Second)
	assert.Len(t, gotA, 50)
	assert.Equal(t, gotA, gotB)
	assert.Equal(t, `{"n":0}`, gotA[0])
	assert.Equal(t, `{"n":49}`, gotA[49])
}
