package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/browsercloud/internal/tasks"
)

const (
	DefaultBaseURL  = "http://localhost:8000"
	DefaultAPIKey   = "local-dev"
	DefaultMaxSteps = 50

	apiKeyHeader = "X-Browser-Use-API-Key"
)

// ErrStreamEnded means a followed stream closed without a terminal event.
var ErrStreamEnded = errors.New("task stream ended without a terminal event")

// APIError is a non-2xx answer from the task API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("task api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("task api status %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client talks to a browsercloud server over its /api/v2 surface.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = DefaultAPIKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: strings.TrimSpace(apiKey), http: httpClient}
}

type CreateTaskRequest struct {
	Description string `json:"description"`
	SessionID   string `json:"sessionId,omitempty"`
	MaxSteps    int    `json:"maxSteps,omitempty"`
}

type CreatedTask struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (CreatedTask, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return CreatedTask{}, fmt.Errorf("marshal request: %w", err)
	}
	var out CreatedTask
	if err := c.do(ctx, http.MethodPost, "/api/v2/tasks", bytes.NewReader(payload), &out); err != nil {
		return CreatedTask{}, err
	}
	return out, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (tasks.View, error) {
	var out tasks.View
	if err := c.do(ctx, http.MethodGet, "/api/v2/tasks/"+taskID, nil, &out); err != nil {
		return tasks.View{}, err
	}
	return out, nil
}

// WaitForTask polls the task every interval until it is finished or errored.
// onPoll, when set, sees every snapshot.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration, onPoll func(tasks.View)) (tasks.View, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := c.GetTask(ctx, taskID)
		if err != nil {
			return tasks.View{}, err
		}
		if onPoll != nil {
			onPoll(view)
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Follow reads the task's server-sent event stream and hands each event to
// onEvent. It returns the terminal event, or ErrStreamEnded when the stream
// closes before one arrives.
func (c *Client) Follow(ctx context.Context, taskID string, onEvent func(tasks.Event)) (tasks.Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v2/tasks/"+taskID+"/stream", nil)
	if err != nil {
		return tasks.Event{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any whole-request timeout on c.http.
	streamClient := *c.http
	streamClient.Timeout = 0
	res, err := streamClient.Do(req)
	if err != nil {
		return tasks.Event{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return tasks.Event{}, apiError(res)
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev tasks.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Event == tasks.EventTaskFinished || ev.Event == tasks.EventTaskError {
			return ev, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return tasks.Event{}, fmt.Errorf("stream read: %w", err)
	}
	return tasks.Event{}, ErrStreamEnded
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return apiError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	apiErr := &APIError{Status: res.StatusCode, Message: strings.TrimSpace(string(body))}
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Error
	}
	return apiErr
}
