package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the engine's Prometheus metrics.
type Registry struct {
	PositionsInserted prometheus.Counter
	PositionsRemoved  prometheus.Counter
	ClaimsEnqueued    prometheus.Counter
	ClaimsProcessed   prometheus.Counter
	ClaimsCancelled   prometheus.Counter
	PenaltiesImposed  prometheus.Counter
	ProcessDuration   prometheus.Histogram
	QueueDepth        *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{
		PositionsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_positions_inserted_total",
			Help: "Loan positions inserted into the trigger queue",
		}),
		PositionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_positions_removed_total",
			Help: "Loan positions removed or popped from the trigger queue",
		}),
		ClaimsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_claims_enqueued_total",
			Help: "Withdrawal claims enqueued",
		}),
		ClaimsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_claims_processed_total",
			Help: "Withdrawal claims fully fulfilled",
		}),
		ClaimsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_claims_cancelled_total",
			Help: "Withdrawal claims cancelled by their owners",
		}),
		PenaltiesImposed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mortgagex_penalties_imposed_total",
			Help: "Penalty accrual events across all positions",
		}),
		ProcessDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mortgagex_process_duration_seconds",
			Help:    "Duration of matching-engine process batches",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mortgagex_queue_depth",
			Help: "Entries currently in each queue",
		}, []string{"pool", "queue"}),
	}
	prometheus.MustRegister(
		r.PositionsInserted, r.PositionsRemoved,
		r.ClaimsEnqueued, r.ClaimsProcessed, r.ClaimsCancelled,
		r.PenaltiesImposed, r.ProcessDuration, r.QueueDepth,
	)
	return r
}

// Handler serves the default registry for the /metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }
