package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appendOperation   = "append"
	readOperation     = "read"
	compactOperation  = "compact"
	truncateOperation = "truncate"
	replayOperation   = "replay"
)

var (
	LogFileOperationDurationNanoseconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "log_file_operation_duration_ns",
		Help: "how long it takes to perform a log file operation in nanoseconds",
	}, []string{"operation"})

	LogFileOperationDurationMilliseconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "log_file_operation_duration_ms",
		Help: "how long it takes to perform a log file operation in milliseconds",
	}, []string{"operation"})

	LogFileRecordSizes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "log_file_record_sizes",
		Help:    "size of records written to the log file in bytes",
		Buckets: prometheus.ExponentialBuckets(32, 4, 8),
	}, []string{"command"})

	LogFileSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "log_file_size_bytes",
		Help: "current size of the head log file in bytes",
	})

	CompactionCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_compaction_count",
		Help: "number of completed log compactions",
	})

	CompactionReclaimedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_compaction_reclaimed_bytes",
		Help:    "bytes reclaimed by a log compaction",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	TornRecordCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "log_torn_record_count",
		Help: "number of torn terminal records discarded while replaying the log",
	})
)

// observeOperation records how long a log file operation took since start
func observeOperation(operation string, start time.Time) {
	elapsed := time.Since(start)
	LogFileOperationDurationNanoseconds.WithLabelValues(operation).Observe(float64(elapsed.Nanoseconds()))
	LogFileOperationDurationMilliseconds.WithLabelValues(operation).Observe(float64(elapsed.Milliseconds()))
}
