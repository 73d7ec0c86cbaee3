package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockEngine provides deterministic runs when no real agent worker is
// configured. It reports up to Steps steps and then succeeds, or returns Fail
// when set.
type MockEngine struct {
	Steps     int
	StepDelay time.Duration
	Output    string
	Fail      *Failure
	// Block makes Execute wait for ctx to end, for exercising timeouts.
	Block bool
}

func NewMockEngine(stepDelay time.Duration) *MockEngine {
	return &MockEngine{Steps: 3, StepDelay: stepDelay}
}

func (e *MockEngine) Execute(ctx context.Context, req Request, onStep StepHandler) Outcome {
	steps := e.Steps
	if req.MaxSteps > 0 && steps > req.MaxSteps {
		steps = req.MaxSteps
	}

	for i := 1; i <= steps; i++ {
		if e.StepDelay > 0 {
			timer := time.NewTimer(e.StepDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return FailedFromError(ctx, ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return FailedFromError(ctx, err)
		}
		if onStep != nil {
			onStep(Step{
				Number: i,
				Memory: fmt.Sprintf("step %d of %d for %q", i, steps, summarize(req.Description)),
				URL:    "about:blank",
			})
		}
	}

	if e.Block {
		<-ctx.Done()
		return FailedFromError(ctx, ctx.Err())
	}
	if e.Fail != nil {
		f := *e.Fail
		return Outcome{Failure: &f}
	}

	out := strings.TrimSpace(e.Output)
	if out == "" {
		out = fmt.Sprintf("Completed %q via %s", summarize(req.Description), req.ConnectionAddress)
	}
	return Succeeded(out)
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= 80 {
		return s
	}
	return strings.TrimSpace(string(runes[:80])) + "..."
}
