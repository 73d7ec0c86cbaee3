package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPEngineConsumesNDJSON(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"step","number":1,"memory":"opened site","url":"https://example.com"}`)
		fmt.Fprintln(w, `not-json`)
		fmt.Fprintln(w, `{"type":"step","memory":"clicked search"}`)
		fmt.Fprintln(w, `{"type":"result","output":"3 results"}`)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL, "", 0)
	var steps []Step
	out := e.Execute(context.Background(), Request{TaskID: "t1", Description: "search", ConnectionAddress: "ws://localhost:9223", MaxSteps: 7}, func(s Step) {
		steps = append(steps, s)
	})
	if out.Failed() {
		t.Fatalf("Execute() failure = %v", out.Failure)
	}
	if out.Output != "3 results" {
		t.Fatalf("Output = %q, want %q", out.Output, "3 results")
	}
	if len(steps) != 2 || steps[1].Number != 2 {
		t.Fatalf("steps = %+v", steps)
	}
	if got.ConnectionAddress != "ws://localhost:9223" || got.MaxSteps != 7 || got.Description != "search" {
		t.Fatalf("request = %+v", got)
	}
}

func TestHTTPEngineConsumesSSEError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"step\",\"number\":1}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"kind\":\"Timeout\",\"message\":\"page never loaded\"}\n\n")
	}))
	defer srv.Close()

	out := NewHTTPEngine(srv.URL, "", 0).Execute(context.Background(), Request{MaxSteps: 3}, nil)
	if !out.Failed() {
		t.Fatalf("Execute() succeeded, want failure")
	}
	if out.Failure.Kind != KindTimeout || out.Failure.Message != "page never loaded" {
		t.Fatalf("Failure = %+v", out.Failure)
	}
}

func TestHTTPEngineStreamWithoutResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"step","number":1}`)
	}))
	defer srv.Close()

	out := NewHTTPEngine(srv.URL, "", 0).Execute(context.Background(), Request{MaxSteps: 3}, nil)
	if !out.Failed() || out.Failure.Kind != KindEngine {
		t.Fatalf("out = %+v, want EngineError", out)
	}
}

func TestHTTPEngineDocumentResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"output":"done","steps":[{"memory":"a"},{"memory":"b"}]}`)
	}))
	defer srv.Close()

	var n int
	out := NewHTTPEngine(srv.URL, "secret", 0).Execute(context.Background(), Request{MaxSteps: 3}, func(Step) { n++ })
	if out.Failed() || out.Output != "done" {
		t.Fatalf("out = %+v", out)
	}
	if n != 2 {
		t.Fatalf("steps = %d, want 2", n)
	}
}

func TestHTTPEngineRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"output":"ok"}`)
	}))
	defer srv.Close()

	out := NewHTTPEngine(srv.URL, "", 2).Execute(context.Background(), Request{MaxSteps: 1}, nil)
	if out.Failed() || out.Output != "ok" {
		t.Fatalf("out = %+v", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPEngineNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad task", http.StatusBadRequest)
	}))
	defer srv.Close()

	out := NewHTTPEngine(srv.URL, "", 3).Execute(context.Background(), Request{MaxSteps: 1}, nil)
	if !out.Failed() || out.Failure.Kind != KindEngine {
		t.Fatalf("out = %+v, want EngineError", out)
	}
	if !strings.Contains(out.Failure.Message, "400") {
		t.Fatalf("Message = %q, want status code", out.Failure.Message)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPEngineUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewHTTPEngine(url, "", 0).Execute(context.Background(), Request{MaxSteps: 1}, nil)
	if !out.Failed() || out.Failure.Kind != KindConnection {
		t.Fatalf("out = %+v, want ConnectionError", out)
	}
}
