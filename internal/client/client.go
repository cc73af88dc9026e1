// Package client ставит задания thumbnailing в очередь.
//
// Используется командой "thumbd thumbnail" и пригоден как библиотека
// для встраивания в другие сервисы.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/job"
	"github.com/cbwheadon/thumbd/internal/mq"
)

// ErrMissingSuffix — описание без destination обязано задавать suffix:
// иначе выведенный ключ совпал бы с ключом оригинала.
var ErrMissingSuffix = errors.New("description requires a suffix or an explicit destination")

// Description — одно описание thumbnail'а из манифеста клиента.
// Suffix участвует в выводе destination, когда оно не задано явно:
// "{original без расширения}_{suffix}.{format}".
type Description struct {
	job.Description

	// Suffix — суффикс имени результата, например "small".
	Suffix string `json:"suffix,omitempty"`
}

// Options — переопределения уровня запроса.
type Options struct {
	// Bucket и Region переопределяют значения процесса для всех
	// jobs этого запроса.
	Bucket string
	Region string
}

// Client отправляет задания в очередь обработки.
type Client struct {
	queue  mq.Queue
	cfg    *config.Config
	logger *slog.Logger
}

// New создаёт Client.
func New(cfg *config.Config, queue mq.Queue, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{queue: queue, cfg: cfg, logger: logger}
}

// Thumbnail ставит в очередь по одному job на каждое описание манифеста
// и возвращает поставленные jobs.
func (c *Client) Thumbnail(ctx context.Context, remoteImage string, descriptions []Description, opts Options) ([]*job.Description, error) {
	if remoteImage == "" {
		return nil, fmt.Errorf("remote image key is required")
	}

	jobs := make([]*job.Description, 0, len(descriptions))

	for i := range descriptions {
		d := descriptions[i].Description

		d.Original = remoteImage
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.Destination == "" {
			// Без суффикса выведенный ключ совпал бы с оригиналом,
			// и результат перезаписал бы исходный объект.
			if descriptions[i].Suffix == "" {
				return nil, fmt.Errorf("description %d: %w", i, ErrMissingSuffix)
			}
			d.Destination = thumbnailKey(remoteImage, descriptions[i].Suffix, d.Format)
		}
		if opts.Bucket != "" {
			d.Bucket = opts.Bucket
		}
		if opts.Region != "" {
			d.Region = opts.Region
		}

		body, err := json.Marshal(&d)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		if err := c.queue.Send(ctx, c.cfg.Queue, body); err != nil {
			return nil, fmt.Errorf("enqueue job %s: %w", d.ID, err)
		}

		c.logger.Info("job enqueued", "job_id", d.ID, "destination", d.Destination)
		jobs = append(jobs, &d)
	}

	return jobs, nil
}

// thumbnailKey выводит ключ результата из ключа оригинала:
// "{prefix}_{suffix}.{format}". Суффикс обязателен: он гарантирует,
// что выведенный ключ никогда не совпадёт с ключом оригинала.
func thumbnailKey(original, suffix, format string) string {
	if format == "" {
		format = job.DefaultFormat
	}

	prefix := original
	if i := strings.LastIndex(original, "."); i > strings.LastIndex(original, "/") {
		prefix = original[:i]
	}

	return prefix + "_" + suffix + "." + format
}
