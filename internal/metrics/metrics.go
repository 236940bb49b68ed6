package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every cpldupdate collector. It is separate from the default
// registry so textfile exports only carry programming metrics.
var Registry = prometheus.NewRegistry()

var (
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpldupdate_operations_total",
			Help: "Number of device operations by operation and result",
		},
		[]string{"op", "result"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cpldupdate_operation_duration_seconds",
			Help:    "Duration of device operations",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"op"},
	)

	PagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpldupdate_pages_written_total",
			Help: "Number of configuration pages written by region",
		},
		[]string{"region"},
	)

	PagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpldupdate_pages_read_total",
			Help: "Number of configuration pages read back by region",
		},
		[]string{"region"},
	)

	PollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpldupdate_poll_attempts_total",
			Help: "Number of busy and status poll attempts",
		},
		[]string{"kind"},
	)

	PollTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpldupdate_poll_timeouts_total",
			Help: "Number of busy and status polls that exhausted their attempts",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(OperationsTotal)
	Registry.MustRegister(OperationDuration)
	Registry.MustRegister(PagesWrittenTotal)
	Registry.MustRegister(PagesReadTotal)
	Registry.MustRegister(PollAttemptsTotal)
	Registry.MustRegister(PollTimeoutsTotal)
}

// Result is the result label for an operation error.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
