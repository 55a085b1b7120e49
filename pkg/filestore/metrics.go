package filestore

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "relstore"
	metricsSubsystem = "filestore"

	outcomeOK         = "ok"
	outcomeGateway    = "gateway"
	outcomeValidation = "validation"
	outcomeCanceled   = "canceled"
)

type metrics struct {
	remoteFetches   *prometheus.CounterVec
	remoteBytes     prometheus.Counter
	checksumRepairs prometheus.Counter
	replicaWaits    *prometheus.CounterVec
	replicaWaitTime prometheus.Histogram
}

func newMetrics(r prometheus.Registerer) *metrics {
	m := &metrics{
		remoteFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "remote_fetches_total",
			Help:      "Remote release file fetches, by outcome.",
		}, []string{"outcome"}),
		remoteBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "remote_bytes_total",
			Help:      "Bytes of release files fetched from remote origins.",
		}),
		checksumRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "checksum_repairs_total",
			Help:      "Cached release files deleted because they did not match a link checksum.",
		}),
		replicaWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "replica_waits_total",
			Help:      "Waits for replicated release files, by outcome.",
		}, []string{"outcome"}),
		replicaWaitTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "replica_wait_seconds",
			Help:      "Time spent waiting for replication to reach the serial announced by the primary.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if r != nil {
		r.MustRegister(m.remoteFetches, m.remoteBytes, m.checksumRepairs, m.replicaWaits, m.replicaWaitTime)
	}
	return m
}
