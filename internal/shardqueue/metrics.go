package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "queue_submissions_total",
			Help:      "Jobs accepted into the shard executor.",
		},
		[]string{"shard"},
	)
	queueFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hearth",
			Name:      "queue_full_total",
			Help:      "Submissions rejected because a shard stayed full.",
		},
		[]string{"shard"},
	)
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hearth",
			Name:      "queue_depth",
			Help:      "Jobs waiting per shard.",
		},
		[]string{"shard"},
	)
	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hearth",
			Name:      "queue_job_duration_seconds",
			Help:      "Job execution latency per shard.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"shard"},
	)
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
