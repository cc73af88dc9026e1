package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/qr"
	"github.com/cbwheadon/thumbd/internal/storage"
	"github.com/cbwheadon/thumbd/internal/telemetry"
	"github.com/cbwheadon/thumbd/internal/thumbnailer"
	"github.com/cbwheadon/thumbd/internal/worker"
)

// NewServerCmd возвращает команду "server" — долгоживущий процесс
// обработки очереди.
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start a thumbnailing server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	addConfigFlags(cmd)
	return cmd
}

// runServer собирает зависимости и крутит poller до сигнала завершения.
func runServer(cfg *config.Config) error {
	logger := telemetry.SetupLogger()
	logger.Info("starting thumbd server", "queue", cfg.Queue, "bucket", cfg.Bucket)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	queue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	store := storage.New(cfg, logger)
	converter := thumbnailer.New(cfg.ConvertCommand, cfg.TmpDir, cfg.ConvertTimeout, logger)
	decoder := qr.New(logger)

	pipeline := worker.NewPipeline(cfg, store, converter, decoder, queue, logger)
	poller := worker.NewPoller(cfg, queue, pipeline, logger)

	if err := poller.Start(ctx); err != nil {
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8080"
	if v := os.Getenv("THUMBD_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	poller.Stop()
	logger.Info("thumbd server stopped")
	return nil
}
