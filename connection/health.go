package connection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/status-im/status-connect/metrics"
)

func (m *Manager) healthLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.safeCheckHealth()
		case <-m.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) safeCheckHealth() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health check panicked", zap.Any("panic", r))
		}
	}()
	m.CheckHealth()
}

// CheckHealth compares the in-memory state with persistence. A live
// connection that was not refreshed within the stale threshold is stale; a
// persisted session without an in-memory connection is a mismatch the UI
// should resolve by reconnecting. A healthy live connection gets its
// persisted timestamp refreshed. The health-check event is always emitted.
//
// Every check that finds the connection fresh refreshes it, so with the
// health loop running a connection only turns stale when checks were missed
// for longer than the threshold, e.g. while the host was suspended. Once
// stale it stays stale until the wallet connects again.
func (m *Manager) CheckHealth() HealthReport {
	now := m.nowMs()
	staleThreshold := m.cfg.StaleThreshold.Duration
	if staleThreshold <= 0 {
		staleThreshold = time.Hour
	}

	m.mu.RLock()
	state := m.state
	lastRefreshed := m.lastRefreshed
	m.mu.RUnlock()

	report := HealthReport{
		IsStale:           state.IsConnected && now-lastRefreshed > staleThreshold.Milliseconds(),
		ShouldBeConnected: m.persistence.ShouldBeConnected(),
	}
	report.Mismatch = report.ShouldBeConnected && !state.IsConnected
	report.IsHealthy = !report.IsStale && !report.Mismatch

	if state.IsConnected && !report.IsStale {
		m.persistence.RefreshConnectionTimestamp()
	}

	m.mu.Lock()
	if state.IsConnected && !report.IsStale && m.state.IsConnected {
		m.lastRefreshed = now
	}
	m.state.IsHealthy = report.IsHealthy
	state = m.state
	m.mu.Unlock()

	metrics.WalletHealth(report.IsHealthy)
	if !report.IsHealthy {
		m.logger.Warn("wallet connection unhealthy",
			zap.Bool("stale", report.IsStale),
			zap.Bool("mismatch", report.Mismatch))
	}

	m.emitter.emit(WalletEvent{
		Type:      EventHealthCheck,
		State:     state,
		Timestamp: now,
		Source:    SourceSystem,
		Metadata:  report.metadata(),
	})
	return report
}
