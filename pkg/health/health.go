// Package health serves liveness and readiness probes. Every registered
// check runs on its own ticker; a check flips to unhealthy after a run of
// consecutive failures and back after a run of successes, so a single slow
// ping does not pull the instance out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// Option tunes a single check.
type Option func(*probe)

// WithThresholds sets how many consecutive failures mark the check
// unhealthy and how many successes mark it healthy again.
func WithThresholds(failures, successes int) Option {
	return func(p *probe) {
		p.failAfter = max(failures, 1)
		p.passAfter = max(successes, 1)
	}
}

type probe struct {
	name      string
	timeout   time.Duration
	check     CheckFunc
	failAfter int
	passAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Touched only by the probe's own goroutine.
	fails, passes int
}

func newProbe(name string, timeout time.Duration, check CheckFunc, opts []Option) *probe {
	p := &probe{
		name:      name,
		timeout:   timeout,
		check:     check,
		failAfter: defaultFailureThreshold,
		passAfter: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.check(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.passes = 0
		if p.fails++; p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
		return
	}
	p.lastErr.Store(nil)
	p.fails = 0
	if p.passes++; p.passes >= p.passAfter {
		p.healthy.Store(true)
	}
}

func (p *probe) status() string {
	if p.healthy.Load() {
		return "ok"
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg
	}
	return "unhealthy"
}

func (p *probe) loop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	p.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.run(ctx)
		}
	}
}

// Health aggregates liveness and readiness probes. It starts not ready.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check, opts))
}

// AddReadinessCheck registers a check that decides whether the instance
// should receive traffic, typically a store ping.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check, opts))
}

// Start runs every registered check each interval until Stop or ctx ends.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go p.loop(ctx, interval)
	}
}

func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate used during startup and drain.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual gate combined with every readiness check.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.readiness {
		if !p.healthy.Load() {
			return false
		}
	}
	return true
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	rep, ok := summarize(h.liveness)
	h.mu.RUnlock()
	respond(w, rep, ok)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	rep, ok := summarize(h.readiness)
	h.mu.RUnlock()
	if !h.ready.Load() {
		rep.Checks["_readiness"] = "not ready"
		ok = false
	}
	respond(w, rep, ok)
}

func summarize(probes []*probe) (report, bool) {
	rep := report{Checks: make(map[string]string, len(probes))}
	ok := true
	for _, p := range probes {
		rep.Checks[p.name] = p.status()
		if !p.healthy.Load() {
			ok = false
		}
	}
	return rep, ok
}

func respond(w http.ResponseWriter, rep report, ok bool) {
	code := http.StatusOK
	rep.Status = "ok"
	if !ok {
		code = http.StatusServiceUnavailable
		rep.Status = "unhealthy"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
