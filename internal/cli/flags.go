package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/mq"
)

// addConfigFlags объявляет флаги, переопределяющие переменные окружения.
// Имена повторяют опции оригинального демона.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("aws-key", "k", "", "AWS key id (env AWS_KEY)")
	f.StringP("aws-secret", "s", "", "AWS key secret (env AWS_SECRET)")
	f.String("aws-region", "", "AWS region (env AWS_REGION)")
	f.StringP("queue", "q", "", "job queue name (env SQS_QUEUE)")
	f.StringP("bucket", "b", "", "S3 bucket (env BUCKET)")
	f.StringP("tmp-dir", "t", "", "temporary directory for image conversion (env TMP_DIR)")
	f.StringP("convert-command", "v", "", "convert command to use (env CONVERT_COMMAND)")
	f.StringP("s3-acl", "a", "", "default S3 ACL (env S3_ACL)")
	f.StringP("s3-storage-class", "o", "", "S3 storage class (env S3_STORAGE_CLASS)")
	f.String("amqp-url", "", "AMQP broker URL, enables the AMQP transport (env AMQP_URL)")
}

// loadConfig собирает конфигурацию: окружение, затем флаги поверх.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()

	f := cmd.Flags()
	override := func(name string, dst *string) {
		if v, _ := f.GetString(name); v != "" {
			*dst = v
		}
	}

	override("aws-key", &cfg.AWSKey)
	override("aws-secret", &cfg.AWSSecret)
	override("aws-region", &cfg.AWSRegion)
	override("queue", &cfg.Queue)
	override("bucket", &cfg.Bucket)
	override("tmp-dir", &cfg.TmpDir)
	override("convert-command", &cfg.ConvertCommand)
	override("s3-acl", &cfg.S3ACL)
	override("s3-storage-class", &cfg.S3StorageClass)
	override("amqp-url", &cfg.AMQPURL)

	return cfg
}

// newQueue выбирает транспорт очереди по конфигурации.
func newQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mq.Queue, error) {
	if cfg.IsAMQP() {
		return mq.NewAMQP(cfg, logger)
	}
	return mq.NewSQS(ctx, cfg, logger)
}
