package ingestion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcomes recorded by Metrics.
const (
	OutcomeCrawled           = "crawled"
	OutcomeProcessed         = "processed"
	OutcomeStored            = "stored"
	OutcomeValidationError   = "validation_error"
	OutcomeProcessingError   = "processing_error"
	OutcomeExtractionSkipped = "extraction_skipped"
)

// Metrics exports crawl counters to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	Pages    *prometheus.CounterVec
	Chunks   prometheus.Counter
	RateWait prometheus.Histogram
}

// NewMetrics registers the crawl metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Pages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taxcrawl_pages_total",
			Help: "Pages handled by the crawler, by outcome.",
		}, []string{"outcome"}),
		Chunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "taxcrawl_chunks_total",
			Help: "Chunks embedded and stored.",
		}),
		RateWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taxcrawl_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the rate limiter per fetch attempt.",
			Buckets: []float64{0, 0.5, 1, 3, 5, 10, 30, 60, 300, 3600},
		}),
	}
}

func (m *Metrics) page(outcome string) {
	if m == nil {
		return
	}
	m.Pages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) chunks(n int) {
	if m == nil {
		return
	}
	m.Chunks.Add(float64(n))
}

func (m *Metrics) rateWait(d time.Duration) {
	if m == nil {
		return
	}
	m.RateWait.Observe(d.Seconds())
}
