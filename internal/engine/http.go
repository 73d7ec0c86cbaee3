package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/browsercloud/internal/reliability"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
)

// HTTPEngine forwards runs to a remote agent worker. The worker answers with
// an NDJSON or SSE stream of frames, or a single JSON document.
type HTTPEngine struct {
	url     string
	token   string
	retries int
	client  *http.Client
}

func NewHTTPEngine(url, token string, retries int) *HTTPEngine {
	if retries < 0 {
		retries = 0
	}
	return &HTTPEngine{
		url:     strings.TrimSpace(url),
		token:   strings.TrimSpace(token),
		retries: retries,
		// Runs are bounded by the caller's context, not a client timeout.
		client: &http.Client{},
	}
}

type frame struct {
	Type    string `json:"type"`
	Number  int    `json:"number"`
	Memory  string `json:"memory"`
	URL     string `json:"url"`
	Output  string `json:"output"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Steps   []Step `json:"steps"`
}

func (e *HTTPEngine) Execute(ctx context.Context, req Request, onStep StepHandler) Outcome {
	payload, err := json.Marshal(req)
	if err != nil {
		return Failed(KindEngine, fmt.Sprintf("marshal request: %v", err))
	}

	for attempt := 0; ; attempt++ {
		res, err := e.send(ctx, payload)
		if err != nil {
			if attempt < e.retries && reliability.IsRetryableDialError(err) {
				log.Printf("engine: attempt %d for task %s failed: %v", attempt+1, req.TaskID, err)
				if werr := sleepContext(ctx, reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)); werr != nil {
					return FailedFromError(ctx, werr)
				}
				continue
			}
			return FailedFromError(ctx, err)
		}

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			res.Body.Close()
			if attempt < e.retries && reliability.IsRetryableHTTPStatus(res.StatusCode) {
				log.Printf("engine: attempt %d for task %s got status %d", attempt+1, req.TaskID, res.StatusCode)
				if werr := sleepContext(ctx, reliability.ExponentialBackoff(attempt, retryBaseDelay, retryMaxDelay)); werr != nil {
					return FailedFromError(ctx, werr)
				}
				continue
			}
			return Failed(KindEngine, fmt.Sprintf("engine http status %d: %s", res.StatusCode, strings.TrimSpace(string(body))))
		}

		defer res.Body.Close()
		ct := strings.ToLower(res.Header.Get("Content-Type"))
		if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
			return e.consumeStreaming(ctx, res.Body, onStep)
		}
		return e.consumeDocument(ctx, res.Body, onStep)
	}
}

func (e *HTTPEngine) send(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream, application/json")
	if e.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.token)
	}
	res, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return res, nil
}

func (e *HTTPEngine) consumeStreaming(ctx context.Context, body io.Reader, onStep StepHandler) Outcome {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	seen := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			log.Printf("engine: skipping malformed frame: %v", err)
			continue
		}
		switch strings.ToLower(f.Type) {
		case "step":
			seen++
			emit(onStep, Step{Number: f.Number, Memory: f.Memory, URL: f.URL}, seen)
		case "result", "done":
			return Succeeded(nonEmpty(f.Output, "Task finished with no output."))
		case "error":
			return frameFailure(f)
		}
	}
	if err := scanner.Err(); err != nil {
		return FailedFromError(ctx, fmt.Errorf("stream read: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return FailedFromError(ctx, err)
	}
	return Failed(KindEngine, "engine stream ended without a result")
}

func (e *HTTPEngine) consumeDocument(ctx context.Context, body io.Reader, onStep StepHandler) Outcome {
	raw, err := io.ReadAll(body)
	if err != nil {
		return FailedFromError(ctx, fmt.Errorf("read response: %w", err))
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return Failed(KindEngine, "engine returned an empty response")
		}
		return Succeeded(text)
	}
	for i, step := range f.Steps {
		emit(onStep, step, i+1)
	}
	if strings.EqualFold(f.Type, "error") || f.Error != "" || f.Kind != "" {
		return frameFailure(f)
	}
	return Succeeded(nonEmpty(f.Output, "Task finished with no output."))
}

func frameFailure(f frame) Outcome {
	kind := KindEngine
	switch strings.TrimSpace(f.Kind) {
	case string(KindTimeout):
		kind = KindTimeout
	case string(KindConnection):
		kind = KindConnection
	case string(KindStepLimit):
		kind = KindStepLimit
	case string(KindCancelled):
		kind = KindCancelled
	}
	return Failed(kind, nonEmpty(f.Message, f.Error))
}

func emit(onStep StepHandler, step Step, fallbackNumber int) {
	if onStep == nil {
		return
	}
	if step.Number <= 0 {
		step.Number = fallbackNumber
	}
	onStep(step)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
