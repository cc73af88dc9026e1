package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbwheadon/thumbd/internal/client"
	"github.com/cbwheadon/thumbd/internal/telemetry"
)

// NewThumbnailCmd возвращает команду "thumbnail" — одноразовую постановку
// заданий по манифесту описаний.
//
// Результат (поставленные jobs) или объект ошибки печатается в stdout
// как JSON, после чего процесс завершается.
func NewThumbnailCmd() *cobra.Command {
	var remoteImage string
	var descriptionsPath string
	var bucket string
	var region string

	cmd := &cobra.Command{
		Use:   "thumbnail",
		Short: "Given an S3 path and a descriptions manifest, thumbnail an image",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(cmd)
			if err := cfg.Validate(); err != nil {
				return printError(err)
			}

			logger := telemetry.SetupLogger()

			manifest, err := os.ReadFile(descriptionsPath)
			if err != nil {
				return printError(fmt.Errorf("read descriptions: %w", err))
			}

			var descriptions []client.Description
			if err := json.Unmarshal(manifest, &descriptions); err != nil {
				return printError(fmt.Errorf("parse descriptions: %w", err))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			queue, err := newQueue(ctx, cfg, logger)
			if err != nil {
				return printError(err)
			}
			defer queue.Close()

			jobs, err := client.New(cfg, queue, logger).Thumbnail(ctx, remoteImage, descriptions, client.Options{
				Bucket: bucket,
				Region: region,
			})
			if err != nil {
				return printError(err)
			}

			return printJSON(map[string]any{"jobs": jobs})
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().StringVarP(&remoteImage, "remote-image", "r", "", "path to image on S3")
	cmd.Flags().StringVarP(&descriptionsPath, "descriptions", "d", "", "path to JSON manifest describing thumbnail conversions")
	cmd.Flags().StringVar(&bucket, "job-bucket", "", "bucket override for these jobs")
	cmd.Flags().StringVar(&region, "job-region", "", "region override for these jobs")
	cmd.MarkFlagRequired("remote-image")
	cmd.MarkFlagRequired("descriptions")

	return cmd
}

// printJSON печатает объект результата в stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printError печатает объект ошибки в stdout и возвращает её
// для ненулевого кода выхода.
func printError(err error) error {
	printJSON(map[string]string{"error": err.Error()})
	return err
}
