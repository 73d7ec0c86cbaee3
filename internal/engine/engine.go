package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/browsercloud/internal/reliability"
)

// Kind classifies why an engine run failed.
type Kind string

const (
	KindTimeout    Kind = "Timeout"
	KindConnection Kind = "ConnectionError"
	KindEngine     Kind = "EngineError"
	KindCancelled  Kind = "Cancelled"
	KindStepLimit  Kind = "StepLimitReached"
)

// Failure is the error half of an Outcome.
type Failure struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// Outcome is what every Execute call returns: either a final output or a
// Failure, never both.
type Outcome struct {
	Output  string
	Failure *Failure
}

func (o Outcome) Failed() bool { return o.Failure != nil }

func Succeeded(output string) Outcome {
	return Outcome{Output: output}
}

func Failed(kind Kind, message string) Outcome {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "no detail"
	}
	return Outcome{Failure: &Failure{Kind: kind, Message: message}}
}

// FailedFromError maps a transport or context error onto a failure kind.
func FailedFromError(ctx context.Context, err error) Outcome {
	var f *Failure
	switch {
	case errors.As(err, &f):
		return Outcome{Failure: f}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Failed(KindTimeout, err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return Failed(KindCancelled, err.Error())
	case reliability.IsRetryableDialError(err):
		return Failed(KindConnection, err.Error())
	default:
		return Failed(KindEngine, err.Error())
	}
}

// Step is one progress report from a running agent.
type Step struct {
	Number int    `json:"number"`
	Memory string `json:"memory"`
	URL    string `json:"url"`
}

// StepHandler receives progress as the engine reports it.
type StepHandler func(Step)

type Request struct {
	TaskID            string `json:"taskId"`
	SessionID         string `json:"sessionId"`
	Description       string `json:"task"`
	ConnectionAddress string `json:"cdpUrl"`
	MaxSteps          int    `json:"maxSteps"`
}

// Engine runs one task description against one browser for at most
// MaxSteps agent steps. Retries and step budgeting are the engine's concern.
type Engine interface {
	Execute(ctx context.Context, req Request, onStep StepHandler) Outcome
}

// Config controls engine construction.
type Config struct {
	Mode          string
	HTTPURL       string
	HTTPToken     string
	HTTPRetries   int
	MockStepDelay time.Duration
	ProbeEnabled  bool
	ProbeTimeout  time.Duration
}

// NewEngine builds the configured engine and reports the resolved mode.
func NewEngine(cfg Config) (Engine, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var (
		eng      Engine
		resolved string
	)
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			eng, resolved = NewHTTPEngine(cfg.HTTPURL, cfg.HTTPToken, cfg.HTTPRetries), "http"
		} else {
			eng, resolved = NewMockEngine(cfg.MockStepDelay), "mock"
		}
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, "", errors.New("engine HTTP url is required for http mode")
		}
		eng, resolved = NewHTTPEngine(cfg.HTTPURL, cfg.HTTPToken, cfg.HTTPRetries), "http"
	case "mock":
		eng, resolved = NewMockEngine(cfg.MockStepDelay), "mock"
	default:
		return nil, "", fmt.Errorf("unsupported engine mode %q", cfg.Mode)
	}

	if cfg.ProbeEnabled {
		eng = WithProbe(eng, NewProber(cfg.ProbeTimeout))
	}
	return eng, resolved, nil
}
