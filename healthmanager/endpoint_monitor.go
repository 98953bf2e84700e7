package healthmanager

import (
	"sort"
	"sync"
	"time"

	"github.com/status-im/status-connect/healthmanager/rpcstatus"
	"github.com/status-im/status-connect/metrics"
	"github.com/status-im/status-connect/params"
)

// responseTimeAlpha is the weight of the newest sample in the response time EMA.
const responseTimeAlpha = 0.3

// EndpointHealth is the tracked health of one RPC endpoint.
type EndpointHealth struct {
	IsHealthy    bool          `json:"isHealthy"`
	LastCheck    time.Time     `json:"lastCheck"`
	ResponseTime time.Duration `json:"responseTime"`
	ErrorCount   int           `json:"errorCount"`
	SuccessCount int           `json:"successCount"`
}

type Option func(*EndpointMonitor)

func WithClock(now func() time.Time) Option {
	return func(m *EndpointMonitor) {
		m.now = now
	}
}

// EndpointMonitor tracks success, errors and latency per endpoint and
// notifies subscribers when an endpoint flips between healthy and unhealthy.
type EndpointMonitor struct {
	cfg params.HealthConfig
	now func() time.Time

	mu          sync.RWMutex
	endpoints   map[string]*EndpointHealth
	statuses    map[string]rpcstatus.ProviderStatus
	subscribers []chan struct{}
}

func NewEndpointMonitor(cfg params.HealthConfig, opts ...Option) *EndpointMonitor {
	m := &EndpointMonitor{
		cfg:       cfg,
		now:       time.Now,
		endpoints: make(map[string]*EndpointHealth),
		statuses:  make(map[string]rpcstatus.ProviderStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *EndpointMonitor) entry(name string) *EndpointHealth {
	h, ok := m.endpoints[name]
	if !ok {
		h = &EndpointHealth{IsHealthy: true}
		m.endpoints[name] = h
	}
	return h
}

// RecordSuccess folds d into the response time average and makes the
// endpoint healthy again.
func (m *EndpointMonitor) RecordSuccess(name string, d time.Duration) {
	m.mu.Lock()
	h := m.entry(name)
	wasHealthy := h.IsHealthy
	if h.SuccessCount == 0 && h.ResponseTime == 0 {
		h.ResponseTime = d
	} else {
		h.ResponseTime = time.Duration(responseTimeAlpha*float64(d) + (1-responseTimeAlpha)*float64(h.ResponseTime))
	}
	h.SuccessCount++
	h.ErrorCount = 0
	h.IsHealthy = true
	h.LastCheck = m.now()
	m.mu.Unlock()

	if !wasHealthy {
		m.changed(name, true)
	}
}

// RecordError counts a failure. The endpoint turns unhealthy once the count
// reaches the error threshold.
func (m *EndpointMonitor) RecordError(name string) {
	m.mu.Lock()
	h := m.entry(name)
	wasHealthy := h.IsHealthy
	h.ErrorCount++
	if h.ErrorCount >= m.cfg.ErrorThreshold {
		h.IsHealthy = false
	}
	h.LastCheck = m.now()
	isHealthy := h.IsHealthy
	m.mu.Unlock()

	if wasHealthy && !isHealthy {
		m.changed(name, false)
	}
}

// RecordCall keeps the provider status view up to date.
func (m *EndpointMonitor) RecordCall(res rpcstatus.RpcProviderCallStatus) {
	status := rpcstatus.NewRpcProviderStatus(res)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[res.Name] = m.statuses[res.Name].Merge(status)
}

// IsHealthy is optimistic: unknown endpoints and endpoints not checked within
// the check interval are healthy. Otherwise the error count must be under
// the threshold and the average response time under the ceiling.
func (m *EndpointMonitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isHealthy(name)
}

func (m *EndpointMonitor) isHealthy(name string) bool {
	h, ok := m.endpoints[name]
	if !ok {
		return true
	}
	if m.now().Sub(h.LastCheck) > m.cfg.CheckInterval.Duration {
		return true
	}
	return h.ErrorCount < m.cfg.ErrorThreshold && h.ResponseTime < m.cfg.ResponseTimeCeiling.Duration
}

// BestEndpoints returns the healthy candidates ordered by ascending average
// response time. When none is healthy all candidates are returned in their
// original order. The result is empty only for empty input.
func (m *EndpointMonitor) BestEndpoints(candidates []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if m.isHealthy(name) {
			healthy = append(healthy, name)
		}
	}
	if len(healthy) == 0 {
		return append([]string(nil), candidates...)
	}

	sort.SliceStable(healthy, func(i, j int) bool {
		return m.responseTime(healthy[i]) < m.responseTime(healthy[j])
	})
	return healthy
}

func (m *EndpointMonitor) responseTime(name string) time.Duration {
	if h, ok := m.endpoints[name]; ok {
		return h.ResponseTime
	}
	return 0
}

// Health returns a copy of the endpoint record.
func (m *EndpointMonitor) Health(name string) EndpointHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.endpoints[name]; ok {
		return *h
	}
	return EndpointHealth{IsHealthy: true}
}

func (m *EndpointMonitor) Statuses() map[string]rpcstatus.ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]rpcstatus.ProviderStatus, len(m.statuses))
	for name, status := range m.statuses {
		res[name] = status
	}
	return res
}

// Subscribe allows clients to receive notifications about changes.
func (m *EndpointMonitor) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber from receiving notifications.
func (m *EndpointMonitor) Unsubscribe(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, subscriber := range m.subscribers {
		if subscriber == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (m *EndpointMonitor) changed(name string, healthy bool) {
	metrics.RPCEndpointHealth(name, healthy)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, subscriber := range m.subscribers {
		select {
		case subscriber <- struct{}{}:
		default:
			// Skip notification if the subscriber's channel is full
		}
	}
}
