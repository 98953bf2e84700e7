package chain

import (
	"sort"
	"sync"
	"time"

	"github.com/status-im/status-connect/params"
	"github.com/status-im/status-connect/rpc/network"
)

type sample struct {
	latency time.Duration
	success bool
}

// Ranker orders endpoints by a weighted score of recent latency and
// failure rate. Lower scores rank first.
type Ranker struct {
	cfg params.RankingConfig
	now func() time.Time

	mu       sync.Mutex
	samples  map[string][]sample
	scores   map[string]float64
	rankedAt time.Time
}

func NewRanker(cfg params.RankingConfig, now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{
		cfg:     cfg,
		now:     now,
		samples: make(map[string][]sample),
		scores:  make(map[string]float64),
	}
}

// Record keeps the last SampleCount outcomes of an endpoint.
func (r *Ranker) Record(name string, latency time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	samples := append(r.samples[name], sample{latency: latency, success: success})
	if len(samples) > r.cfg.SampleCount {
		samples = samples[len(samples)-r.cfg.SampleCount:]
	}
	r.samples[name] = samples
}

// Score returns the last computed score of an endpoint.
func (r *Ranker) Score(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scores[name]
}

func (r *Ranker) rescoreLocked(endpoints []network.Endpoint) {
	averages := make(map[string]float64, len(endpoints))
	successRates := make(map[string]float64, len(endpoints))
	var maxLatency float64

	for _, e := range endpoints {
		samples := r.samples[e.Name]
		if len(samples) == 0 {
			successRates[e.Name] = 1
			continue
		}
		var total time.Duration
		successes := 0
		for _, s := range samples {
			total += s.latency
			if s.success {
				successes++
			}
		}
		avg := float64(total) / float64(len(samples))
		averages[e.Name] = avg
		successRates[e.Name] = float64(successes) / float64(len(samples))
		if avg > maxLatency {
			maxLatency = avg
		}
	}

	scores := make(map[string]float64, len(endpoints))
	for _, e := range endpoints {
		var normLatency float64
		if maxLatency > 0 {
			normLatency = averages[e.Name] / maxLatency
		}
		scores[e.Name] = r.cfg.LatencyWeight*normLatency + r.cfg.StabilityWeight*(1-successRates[e.Name])
	}
	r.scores = scores
	r.rankedAt = r.now()
}

// Rank returns healthy non fallback endpoints by score, then healthy
// fallback endpoints, then unhealthy ones. Scores are recomputed once per
// ranking interval. The result is empty only for empty input.
func (r *Ranker) Rank(endpoints []network.Endpoint, healthy func(name string) bool) []network.Endpoint {
	r.mu.Lock()
	missing := false
	for _, e := range endpoints {
		if _, ok := r.scores[e.Name]; !ok {
			missing = true
			break
		}
	}
	if missing || r.rankedAt.IsZero() || r.now().Sub(r.rankedAt) >= r.cfg.Interval.Duration {
		r.rescoreLocked(endpoints)
	}
	scores := r.scores
	r.mu.Unlock()

	groups := make(map[string]int, len(endpoints))
	for _, e := range endpoints {
		switch {
		case !healthy(e.Name):
			groups[e.Name] = 2
		case e.Tier == network.TierFallback:
			groups[e.Name] = 1
		default:
			groups[e.Name] = 0
		}
	}

	ranked := append([]network.Endpoint(nil), endpoints...)
	sort.SliceStable(ranked, func(i, j int) bool {
		gi, gj := groups[ranked[i].Name], groups[ranked[j].Name]
		if gi != gj {
			return gi < gj
		}
		if gi == 2 {
			return false
		}
		return scores[ranked[i].Name] < scores[ranked[j].Name]
	})
	return ranked
}
