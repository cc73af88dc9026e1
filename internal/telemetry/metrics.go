package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики пайплайна обработки заданий.
var (
	// JobsTotal — количество обработанных jobs по результату.
	// Значения label status: "ok", "download_error", "convert_error",
	// "upload_error", "dead_letter".
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbd",
		Name:      "jobs_total",
		Help:      "Processed thumbnailing jobs by outcome.",
	}, []string{"status"})

	// ConversionDuration — длительность внешней конвертации.
	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thumbd",
		Name:      "conversion_duration_seconds",
		Help:      "Wall-clock duration of external convert invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"strategy"})

	// UploadsTotal — количество выгрузок результатов в object storage.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbd",
		Name:      "uploads_total",
		Help:      "Thumbnail uploads by outcome.",
	}, []string{"status"})

	// ReceivesTotal — количество операций получения из очереди.
	// Значения label result: "message", "empty", "error".
	ReceivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thumbd",
		Name:      "queue_receives_total",
		Help:      "Queue receive attempts by result.",
	}, []string{"result"})
)
