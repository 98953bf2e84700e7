package timesource

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/status-im/status-connect/logutils"
	"github.com/status-im/status-connect/params"
)

// DefaultQueryTimeout bounds a single NTP query.
const DefaultQueryTimeout = 5 * time.Second

var errNoServers = errors.New("no ntp servers configured")

type ntpQuery func(string, ntp.QueryOptions) (*ntp.Response, error)

type queryResponse struct {
	Offset time.Duration
	Error  error
}

// computeOffset queries every server concurrently and returns the median
// offset. It fails when more than allowedFailures servers fail.
func computeOffset(timeQuery ntpQuery, servers []string, allowedFailures int) (time.Duration, error) {
	if len(servers) == 0 {
		return 0, errNoServers
	}
	responses := make(chan queryResponse, len(servers))
	for _, server := range servers {
		go func(server string) {
			response, err := timeQuery(server, ntp.QueryOptions{Timeout: DefaultQueryTimeout})
			if err == nil {
				err = response.Validate()
			}
			if err != nil {
				responses <- queryResponse{Error: err}
				return
			}
			responses <- queryResponse{Offset: response.ClockOffset}
		}(server)
	}

	var (
		errs    []error
		offsets []time.Duration
	)
	for range servers {
		response := <-responses
		if response.Error != nil {
			errs = append(errs, response.Error)
		} else {
			offsets = append(offsets, response.Offset)
		}
	}
	if len(errs) > allowedFailures || len(offsets) == 0 {
		return 0, multierr.Combine(errs...)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	mid := len(offsets) / 2
	if len(offsets)%2 == 0 {
		return (offsets[mid-1] + offsets[mid]) / 2, nil
	}
	return offsets[mid], nil
}

// NTPTimeSource is a clock corrected by the offset reported by NTP servers.
// The offset is refreshed every updatePeriod while started. Until the first
// successful update it behaves like the local clock.
type NTPTimeSource struct {
	servers         []string
	allowedFailures int
	updatePeriod    time.Duration
	timeQuery       ntpQuery
	logger          *zap.Logger

	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	mu           sync.RWMutex
	latestOffset time.Duration
}

func New(cfg params.TimeSourceConfig, logger *zap.Logger) *NTPTimeSource {
	return &NTPTimeSource{
		servers:         cfg.Servers,
		allowedFailures: cfg.AllowedFailures,
		updatePeriod:    cfg.UpdatePeriod.Duration,
		timeQuery:       ntp.QueryWithOptions,
		logger:          logutils.OrDefault(logger).Named("timesource"),
		quit:            make(chan struct{}),
	}
}

// Now returns the local time adjusted by the latest known offset.
func (s *NTPTimeSource) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Now().Add(s.latestOffset)
}

func (s *NTPTimeSource) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestOffset
}

func (s *NTPTimeSource) updateOffset() {
	offset, err := computeOffset(s.timeQuery, s.servers, s.allowedFailures)
	if err != nil {
		s.logger.Warn("failed to compute ntp offset", zap.Error(err))
		return
	}
	s.logger.Debug("ntp offset updated", zap.Duration("offset", offset))
	s.mu.Lock()
	s.latestOffset = offset
	s.mu.Unlock()
}

// Start updates the offset once synchronously and then periodically in the
// background. Calling Start more than once has no effect.
func (s *NTPTimeSource) Start() {
	s.startOnce.Do(func() {
		s.updateOffset()
		if s.updatePeriod <= 0 {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(s.updatePeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.updateOffset()
				case <-s.quit:
					return
				}
			}
		}()
	})
}

// Stop ends the background updates. It is idempotent.
func (s *NTPTimeSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}
