package chain

import (
	"sync"
	"time"

	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/params"
)

type Outcome int

const (
	// OutcomeOverflow is a request rejected because the window is full.
	OutcomeOverflow Outcome = iota
	OutcomeError
	OutcomeSuccess
)

// RateLimitState is the limiter bookkeeping of one endpoint.
type RateLimitState struct {
	Requests          []time.Time
	LastRequest       time.Time
	BackoffUntil      time.Time
	ConsecutiveErrors int
}

func (s RateLimitState) clone() RateLimitState {
	s.Requests = append([]time.Time(nil), s.Requests...)
	return s
}

type LimitsStorage interface {
	Get(endpoint string) (RateLimitState, bool)
	Set(endpoint string, state RateLimitState)
}

type InMemLimitsStorage struct {
	data sync.Map
}

func NewInMemLimitsStorage() *InMemLimitsStorage {
	return &InMemLimitsStorage{}
}

func (s *InMemLimitsStorage) Get(endpoint string) (RateLimitState, bool) {
	data, ok := s.data.Load(endpoint)
	if !ok {
		return RateLimitState{}, false
	}
	return data.(RateLimitState).clone(), true
}

func (s *InMemLimitsStorage) Set(endpoint string, state RateLimitState) {
	s.data.Store(endpoint, state.clone())
}

// backoffFor returns base * 2^exp capped at max.
func backoffFor(exp int, cfg params.RateLimitConfig) time.Duration {
	if exp < 0 {
		exp = 0
	}
	backoff := cfg.BaseBackoff.Duration
	for i := 0; i < exp; i++ {
		backoff *= 2
		if backoff >= cfg.MaxBackoff.Duration {
			return cfg.MaxBackoff.Duration
		}
	}
	if backoff > cfg.MaxBackoff.Duration {
		return cfg.MaxBackoff.Duration
	}
	return backoff
}

// pruneWindow drops requests older than the window.
func pruneWindow(state RateLimitState, now time.Time, window time.Duration) RateLimitState {
	kept := state.Requests[:0:0]
	for _, t := range state.Requests {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	state.Requests = kept
	return state
}

// NextBackoff returns the state after outcome happened at now. A backoff
// never shortens an already running one.
func NextBackoff(state RateLimitState, outcome Outcome, now time.Time, cfg params.RateLimitConfig) RateLimitState {
	state = state.clone()

	var backoff time.Duration
	switch outcome {
	case OutcomeOverflow:
		// the rejected request is the first one over the cap
		overflow := len(state.Requests) + 1 - cfg.MaxRequests
		backoff = backoffFor(overflow, cfg)
	case OutcomeError:
		state.ConsecutiveErrors++
		backoff = backoffFor(state.ConsecutiveErrors-1, cfg)
	case OutcomeSuccess:
		state.ConsecutiveErrors = 0
		return state
	}

	if until := now.Add(backoff); until.After(state.BackoffUntil) {
		state.BackoffUntil = until
	}
	return state
}

// RateLimiter caps each endpoint at MaxRequests per sliding Window and backs
// off exponentially on overflow and on errors.
type RateLimiter struct {
	cfg     params.RateLimitConfig
	storage LimitsStorage
	now     func() time.Time
	mu      sync.Mutex
}

func NewRateLimiter(cfg params.RateLimitConfig, storage LimitsStorage, now func() time.Time) *RateLimiter {
	if storage == nil {
		storage = NewInMemLimitsStorage()
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		cfg:     cfg,
		storage: storage,
		now:     now,
	}
}

// CheckRateLimit reports whether a request to endpoint may be sent now and,
// if so, consumes a slot. Calls during backoff do not consume a slot.
func (rl *RateLimiter) CheckRateLimit(endpoint string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	state, _ := rl.storage.Get(endpoint)
	if now.Before(state.BackoffUntil) {
		metrics.RPCRateLimited(endpoint)
		return false
	}

	state = pruneWindow(state, now, rl.cfg.Window.Duration)
	if len(state.Requests) >= rl.cfg.MaxRequests {
		rl.storage.Set(endpoint, NextBackoff(state, OutcomeOverflow, now, rl.cfg))
		metrics.RPCRateLimited(endpoint)
		return false
	}

	state.Requests = append(state.Requests, now)
	state.LastRequest = now
	rl.storage.Set(endpoint, state)
	return true
}

// RecordError extends the endpoint backoff.
func (rl *RateLimiter) RecordError(endpoint string) {
	rl.record(endpoint, OutcomeError)
}

func (rl *RateLimiter) RecordSuccess(endpoint string) {
	rl.record(endpoint, OutcomeSuccess)
}

func (rl *RateLimiter) record(endpoint string, outcome Outcome) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	state, _ := rl.storage.Get(endpoint)
	rl.storage.Set(endpoint, NextBackoff(state, outcome, rl.now(), rl.cfg))
}

func (rl *RateLimiter) State(endpoint string) RateLimitState {
	state, _ := rl.storage.Get(endpoint)
	return state
}
