package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/job"
	"github.com/cbwheadon/thumbd/internal/mq"
	"github.com/cbwheadon/thumbd/internal/telemetry"
	"github.com/cbwheadon/thumbd/internal/thumbnailer"
)

// Storage — контракт коллаборатора object storage.
type Storage interface {
	Download(ctx context.Context, bucket, region, key string) (string, error)
	Save(ctx context.Context, bucket, region, localPath, key string) error
}

// Converter — контракт исполнителя конвертации.
type Converter interface {
	Execute(ctx context.Context, d *job.Description, localPaths ...string) (*thumbnailer.Result, error)
}

// QRDecoder — контракт best-effort декодера QR-кодов.
type QRDecoder interface {
	Decode(path string) string
}

// Pipeline прогоняет один job через последовательность стадий:
// download → convert → upload → qr → reply → acknowledge.
//
// Подтверждение (удаление сообщения) требует успеха конвертации
// И всех выгрузок; сбой ответа или notify только логируется.
// При любом другом сбое сообщение возвращается в очередь — retry
// целиком делегирован её visibility-механизму.
type Pipeline struct {
	cfg       *config.Config
	storage   Storage
	converter Converter
	qr        QRDecoder
	queue     mq.Queue
	http      *http.Client
	logger    *slog.Logger
}

// NewPipeline создаёт Pipeline.
func NewPipeline(cfg *config.Config, storage Storage, converter Converter, qr QRDecoder, queue mq.Queue, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		storage:   storage,
		converter: converter,
		qr:        qr,
		queue:     queue,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Process обрабатывает один распарсенный job и решает судьбу сообщения:
// Delete при полном успехе, DeadLetter для неисправимых jobs,
// Release для временных сбоев.
func (p *Pipeline) Process(ctx context.Context, d *job.Description, m *mq.Message) error {
	logger := telemetry.WithJobID(p.logger, d.ID).With("original", d.Original, "strategy", d.Strategy)

	if err := d.Validate(); err != nil {
		// Невалидный job не станет валидным от повторной доставки.
		logger.Error("job failed validation, dead-lettering", "error", err)
		telemetry.JobsTotal.WithLabelValues("dead_letter").Inc()
		if dlErr := p.queue.DeadLetter(ctx, m); dlErr != nil {
			logger.Error("dead-letter failed", "error", dlErr)
		}
		return fmt.Errorf("%w: %v", ErrJobInvalid, err)
	}

	// 1. Download: сбой оставляет сообщение в очереди.
	localPath, err := p.storage.Download(ctx, d.Bucket, d.Region, d.Original)
	if err != nil {
		logger.Error("download failed", "error", err)
		telemetry.JobsTotal.WithLabelValues("download_error").Inc()
		p.release(ctx, m, logger)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	// Скачанный исходник удаляется независимо от исхода конвертации.
	defer os.Remove(localPath)

	// 2. Convert: мешок независимых конвертаций, join перед reply/ack.
	// Сегодня в мешке ровно одна запись, но форма готова к нескольким
	// вариантам thumbnail'а на job.
	variants := []*job.Description{d}
	results, err := p.convertAll(ctx, variants, localPath)
	if err != nil {
		logger.Error("conversion failed", "error", err)
		telemetry.JobsTotal.WithLabelValues("convert_error").Inc()
		p.release(ctx, m, logger)
		return err
	}
	for _, r := range results {
		defer r.Cleanup()
	}

	// 3. Upload: wait-all с первым пойманным сбоем; подтверждение
	// сообщения заблокировано, пока все выгрузки не пройдут.
	remoteKeys, err := p.uploadAll(ctx, variants, results)
	if err != nil {
		logger.Error("upload failed", "error", err)
		telemetry.JobsTotal.WithLabelValues("upload_error").Inc()
		p.release(ctx, m, logger)
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	// 4. QR: первый произведённый файл, сбой не валит job.
	qrcode := ""
	for _, r := range results {
		if paths := r.Paths(); len(paths) > 0 {
			qrcode = p.qr.Decode(paths[0])
			break
		}
	}

	// 5. Reply: best-effort.
	p.reply(ctx, d, remoteKeys, qrcode, logger)

	// 6. Notify: best-effort callback.
	p.notify(ctx, d, logger)

	// 7. Acknowledge.
	if err := p.queue.Delete(ctx, m); err != nil {
		// Сообщение доставится повторно — потребители ответов обязаны
		// быть идемпотентными.
		logger.Error("delete failed, message will be redelivered", "error", err)
		return err
	}

	telemetry.JobsTotal.WithLabelValues("ok").Inc()
	logger.Info("job completed", "files", remoteKeys, "qrcode_found", qrcode != "")
	return nil
}

// convertAll выполняет мешок конвертаций параллельно и ждёт все.
func (p *Pipeline) convertAll(ctx context.Context, variants []*job.Description, localPath string) ([]*thumbnailer.Result, error) {
	results := make([]*thumbnailer.Result, len(variants))

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			r, err := p.converter.Execute(gctx, v, localPath)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Частично успешные конвертации не должны течь.
		for _, r := range results {
			if r != nil {
				r.Cleanup()
			}
		}
		return nil, err
	}
	return results, nil
}

// uploadAll выгружает каждый файл каждого результата под детерминированным
// ключом и возвращает удалённые ключи в порядке вариантов и листингов.
// Ключи считаются по описанию соответствующего варианта.
func (p *Pipeline) uploadAll(ctx context.Context, variants []*job.Description, results []*thumbnailer.Result) ([]string, error) {
	var remoteKeys []string

	g, gctx := errgroup.WithContext(ctx)
	for vi, r := range results {
		d := variants[vi]
		paths := r.Paths()

		for i, name := range r.Files {
			key := d.RemoteKey(name)
			remoteKeys = append(remoteKeys, key)
			localPath := paths[i]
			g.Go(func() error {
				if err := p.storage.Save(gctx, d.Bucket, d.Region, localPath, key); err != nil {
					telemetry.UploadsTotal.WithLabelValues("error").Inc()
					return err
				}
				telemetry.UploadsTotal.WithLabelValues("ok").Inc()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return remoteKeys, nil
}

// reply публикует сообщение о завершении в очередь ответов job.
func (p *Pipeline) reply(ctx context.Context, d *job.Description, files []string, qrcode string, logger *slog.Logger) {
	r := &job.Reply{ID: d.ID, Files: files, QRCode: qrcode}

	body, err := r.Encode()
	if err != nil {
		logger.Error("encode reply failed", "error", err)
		return
	}

	queue := d.ReplyQueue(p.cfg.ReplySuffix, p.cfg.ReplyQueue)
	if queue == "" {
		logger.Debug("no reply queue configured, skipping reply")
		return
	}

	if err := p.queue.Send(ctx, queue, body); err != nil {
		logger.Error("send reply failed", "queue", queue, "error", err)
		return
	}
	logger.Debug("reply sent", "queue", queue, "files", files)
}

// notify делает POST тела job на callback URL, если он задан.
func (p *Pipeline) notify(ctx context.Context, d *job.Description, logger *slog.Logger) {
	if d.Notify == "" {
		return
	}

	body, err := json.Marshal(d)
	if err != nil {
		logger.Error("encode notify body failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Notify, bytes.NewReader(body))
	if err != nil {
		logger.Error("build notify request failed", "url", d.Notify, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		logger.Warn("notify failed", "url", d.Notify, "error", err)
		return
	}
	resp.Body.Close()
	logger.Debug("notified", "url", d.Notify, "status", resp.StatusCode)
}

// release возвращает сообщение в очередь для повторной доставки.
func (p *Pipeline) release(ctx context.Context, m *mq.Message, logger *slog.Logger) {
	if err := p.queue.Release(ctx, m); err != nil {
		// Блокировка истечёт сама — redelivery лишь задержится.
		logger.Warn("release failed", "error", err)
	}
}
