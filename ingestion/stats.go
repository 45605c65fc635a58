package ingestion

import (
	"sync"

	"github.com/poiesic/taxcrawl/core"
)

// statsCollector guards the counters of the current crawl.
type statsCollector struct {
	mu    sync.Mutex
	stats core.RunStats
}

func (s *statsCollector) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = core.RunStats{}
}

func (s *statsCollector) snapshot() core.RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *statsCollector) update(fn func(*core.RunStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
}
