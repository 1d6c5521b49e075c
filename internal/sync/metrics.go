package sync

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/validation"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("tally.sync")

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_sync_writes_total",
		Help: "Coordinated writes by kind, operation and outcome",
	}, []string{"kind", "op", "outcome"})

	writeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tally_sync_write_duration_seconds",
		Help:    "Duration of coordinated writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "op"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_sync_compensations_total",
		Help: "Compensation attempts by kind and result",
	}, []string{"kind", "result"})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_sync_replays_total",
		Help: "Writes answered from a committed operation id",
	}, []string{"kind"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, validation.ErrInvalid):
		return "invalid"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrReplicaSyncFailed):
		return "replica_failed"
	case errors.Is(err, ErrCompensationFailed):
		return "compensation_failed"
	case errors.Is(err, ErrPrimaryStore):
		return "primary_failed"
	default:
		return "rejected"
	}
}
