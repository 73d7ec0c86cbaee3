package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/browsercloud/internal/app"
	"github.com/antoniostano/browsercloud/internal/config"
	"github.com/antoniostano/browsercloud/internal/tasks"
)

func newServer(t *testing.T, apiKeys ...string) string {
	t.Helper()

	built, err := app.Build(context.Background(), config.Config{
		MetricsNamespace:    "client_test",
		EndpointsJSON:       `{"a":"ws://a:9222"}`,
		APIKeys:             apiKeys,
		EngineMode:          "mock",
		EngineMockStepDelay: time.Millisecond,
		DefaultMaxSteps:     10,
		MaxStepsLimit:       50,
		TaskTimeout:         5 * time.Second,
		StreamRetention:     5 * time.Second,
		StreamHeartbeat:     time.Second,
		ArchiveMode:         "none",
	})
	require.NoError(t, err)

	srv := httptest.NewServer(built.API.Router())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = built.Cleanup(ctx)
	})
	return srv.URL
}

func TestCreateAndWaitForTask(t *testing.T) {
	t.Parallel()

	c := New(newServer(t), "any-key", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := c.CreateTask(ctx, CreateTaskRequest{Description: "find the top post", MaxSteps: DefaultMaxSteps})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.SessionID)

	var polls int
	view, err := c.WaitForTask(ctx, created.ID, 10*time.Millisecond, func(tasks.View) { polls++ })
	require.NoError(t, err)
	assert.Equal(t, tasks.TaskStatusFinished, view.Status)
	require.NotNil(t, view.Output)
	assert.Contains(t, *view.Output, "find the top post")
	assert.Equal(t, created.SessionID, view.SessionID)
	assert.GreaterOrEqual(t, polls, 1)
}

func TestFollowReturnsTerminalEvent(t *testing.T) {
	t.Parallel()

	c := New(newServer(t), "any-key", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created, err := c.CreateTask(ctx, CreateTaskRequest{Description: "open example.com"})
	require.NoError(t, err)

	var seen []tasks.EventType
	last, err := c.Follow(ctx, created.ID, func(ev tasks.Event) { seen = append(seen, ev.Event) })
	require.NoError(t, err)
	assert.Equal(t, tasks.EventTaskFinished, last.Event)
	require.NotEmpty(t, seen)
	assert.Equal(t, tasks.EventTaskQueued, seen[0])
	assert.Equal(t, tasks.EventTaskFinished, seen[len(seen)-1])

	view, err := c.GetTask(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, view.Output)
	assert.Equal(t, *view.Output, last.Output)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	url := newServer(t, "secret")
	ctx := context.Background()

	_, err := New(url, "wrong", nil).CreateTask(ctx, CreateTaskRequest{Description: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)

	_, err = New(url, "secret", nil).GetTask(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "task_not_found", apiErr.Code)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	c := New("  http://example.test/  ", "", nil)
	assert.Equal(t, "http://example.test", c.baseURL)
	assert.Equal(t, DefaultAPIKey, c.apiKey)

	c = New("", "k", nil)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}
