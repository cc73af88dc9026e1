// thumbd — queue-driven worker конвертации изображений.
//
// Worker:
//   - Получает задания из очереди (SQS или AMQP)
//   - Скачивает исходник из S3
//   - Конвертирует внешним инструментом согласно стратегии job
//   - Выгружает результаты обратно в S3
//   - Декодирует QR-код первого результата (best-effort)
//   - Отправляет ответ в очередь ответов
//
// Использование:
//
//	thumbd server                      запустить процесс обработки
//	thumbd thumbnail -r KEY -d FILE    поставить задания по манифесту
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cbwheadon/thumbd/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "thumbd",
		Short:         "thumbd — image thumbnailing worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		cli.NewServerCmd(),
		cli.NewThumbnailCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
