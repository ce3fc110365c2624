package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdxfeed",
		Subsystem: "shardqueue",
		Name:      "submissions_total",
		Help:      "Jobs accepted into a shard.",
	}, []string{"shard"})

	queueFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdxfeed",
		Subsystem: "shardqueue",
		Name:      "queue_full_total",
		Help:      "Submissions rejected because the shard stayed full.",
	}, []string{"shard"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdxfeed",
		Subsystem: "shardqueue",
		Name:      "retries_total",
		Help:      "Job attempts retried after a recoverable error.",
	}, []string{"shard"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pdxfeed",
		Subsystem: "shardqueue",
		Name:      "run_duration_seconds",
		Help:      "Duration of a single job attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"shard"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pdxfeed",
		Subsystem: "shardqueue",
		Name:      "queue_depth",
		Help:      "Jobs waiting in a shard after the last job finished.",
	}, []string{"shard"})
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
