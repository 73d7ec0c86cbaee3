package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultProbeTimeout = 3 * time.Second

// Prober checks that a browser's remote debugging endpoint answers before a
// run is handed to the engine.
type Prober struct {
	timeout time.Duration
	dialer  websocket.Dialer
	client  *http.Client
}

func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{
		timeout: timeout,
		dialer: websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		client: &http.Client{Timeout: timeout},
	}
}

// Probe dials ws/wss addresses and queries /json/version on http/https ones.
// A websocket handshake refused with an HTTP response still proves the browser
// is listening.
func (p *Prober) Probe(ctx context.Context, address string) error {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return fmt.Errorf("parse browser address: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		conn, res, err := p.dialer.DialContext(ctx, u.String(), nil)
		if res != nil && res.Body != nil {
			res.Body.Close()
		}
		if err != nil {
			if errors.Is(err, websocket.ErrBadHandshake) && res != nil {
				return nil
			}
			return fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return conn.Close()
	case "http", "https":
		target := *u
		target.Path = strings.TrimRight(target.Path, "/") + "/json/version"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return fmt.Errorf("create probe request: %w", err)
		}
		res, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", u.Host, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return fmt.Errorf("probe %s: status %d", u.Host, res.StatusCode)
		}
		return nil
	default:
		return fmt.Errorf("unsupported browser address scheme %q", u.Scheme)
	}
}

type probedEngine struct {
	next   Engine
	prober *Prober
}

// WithProbe fails runs fast with a ConnectionError when the browser does not
// answer, instead of letting the engine discover it mid-run.
func WithProbe(next Engine, prober *Prober) Engine {
	if prober == nil {
		return next
	}
	return &probedEngine{next: next, prober: prober}
}

func (e *probedEngine) Execute(ctx context.Context, req Request, onStep StepHandler) Outcome {
	if err := e.prober.Probe(ctx, req.ConnectionAddress); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FailedFromError(ctx, ctxErr)
		}
		return Failed(KindConnection, err.Error())
	}
	return e.next.Execute(ctx, req, onStep)
}
