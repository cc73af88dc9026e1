// Package telemetry предоставляет structured logging и метрики Prometheus.
//
// Структура:
//   - logging.go — настройка slog (json/text/pretty)
//   - metrics.go — счётчики и гистограммы пайплайна
package telemetry
