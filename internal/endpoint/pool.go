package endpoint

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNoEndpoints means the pool has nothing to hand out. It is a
	// configuration problem, not a caller mistake.
	ErrNoEndpoints     = errors.New("no browser endpoints configured")
	ErrUnknownEndpoint = errors.New("unknown endpoint id")
)

// Endpoint is a named remote browser (CDP) address.
type Endpoint struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
}

// Pool hands out endpoints in strict rotation. The configured set never
// changes after construction.
type Pool struct {
	mu       sync.Mutex
	byID     map[string]Endpoint
	order    []string
	rotation []string
	cursor   int
}

func NewPool(endpoints []Endpoint) (*Pool, error) {
	set, err := normalize(endpoints)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		byID:  make(map[string]Endpoint, len(set)),
		order: make([]string, 0, len(set)),
	}
	for _, e := range set {
		p.byID[e.ID] = e
		p.order = append(p.order, e.ID)
	}
	p.rotation = append([]string(nil), p.order...)
	return p, nil
}

// normalize trims ids and addresses and rejects blank or duplicate entries.
func normalize(endpoints []Endpoint) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(endpoints))
	seen := make(map[string]bool, len(endpoints))
	for _, e := range endpoints {
		e.ID = strings.TrimSpace(e.ID)
		e.Address = strings.TrimSpace(e.Address)
		if e.ID == "" {
			return nil, errors.New("endpoint id is required")
		}
		if e.Address == "" {
			return nil, fmt.Errorf("endpoint %q: address is required", e.ID)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate endpoint id %q", e.ID)
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out, nil
}

// PickNext returns the endpoint under the cursor and advances it by one,
// wrapping at the end of the list.
func (p *Pool) PickNext() (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.rotation) == 0 {
		if len(p.order) == 0 {
			return Endpoint{}, ErrNoEndpoints
		}
		p.rotation = append([]string(nil), p.order...)
		p.cursor = 0
	}
	if p.cursor >= len(p.rotation) {
		p.cursor = 0
	}
	id := p.rotation[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.rotation)
	return p.byID[id], nil
}

// Resolve looks up a specific endpoint without touching the rotation.
func (p *Pool) Resolve(id string) (Endpoint, error) {
	id = strings.TrimSpace(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, id)
	}
	return e, nil
}

// List returns the configured endpoints in rotation order.
func (p *Pool) List() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
