package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/job"
	"github.com/cbwheadon/thumbd/internal/mq"
	"github.com/cbwheadon/thumbd/internal/telemetry"
)

// Poller — верхний цикл процесса: одна итерация — одно получение
// из очереди.
//
// Явный цикл вместо рекурсивного самоперезапуска; после пустого
// получения и после ошибки транспорта выдерживается минимальная пауза,
// чтобы не раскрутить busy-poll при нулевом long-poll ожидании.
//
// Нечитаемые тела и сообщения, исчерпавшие порог доставок, уходят
// в dead-letter, и цикл продолжается — процесс не падает на отравленном
// сообщении.
type Poller struct {
	queue    mq.Queue
	pipeline *Pipeline
	cfg      *config.Config
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// NewPoller создаёт Poller.
func NewPoller(cfg *config.Config, queue mq.Queue, pipeline *Pipeline, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		queue:    queue,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   telemetry.WithQueue(logger, cfg.Queue),
	}
}

// Start запускает цикл получения в отдельной горутине.
func (p *Poller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	p.logger.Info("starting poller",
		"queue", p.cfg.Queue,
		"wait_time", p.cfg.WaitTime,
		"visibility_timeout", p.cfg.VisibilityTimeout,
		"max_receive_count", p.cfg.MaxReceiveCount,
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()

	return nil
}

// Stop останавливает цикл и ждёт завершения текущего job.
func (p *Poller) Stop() {
	p.stoppedMu.Lock()
	p.stopped = true
	p.stoppedMu.Unlock()

	p.logger.Info("stopping poller...")

	if p.cancelFunc != nil {
		p.cancelFunc()
	}
	p.wg.Wait()

	p.logger.Info("poller stopped")
}

// IsStopped проверяет, остановлен ли Poller.
func (p *Poller) IsStopped() bool {
	p.stoppedMu.RLock()
	defer p.stoppedMu.RUnlock()
	return p.stopped
}

// loop — основной цикл: receive → dispatch → receive.
func (p *Poller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m, err := p.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			telemetry.ReceivesTotal.WithLabelValues("error").Inc()
			p.logger.Error("receive failed", "error", err)
			p.idle(ctx)
			continue
		}

		if m == nil {
			telemetry.ReceivesTotal.WithLabelValues("empty").Inc()
			p.idle(ctx)
			continue
		}

		telemetry.ReceivesTotal.WithLabelValues("message").Inc()
		p.dispatch(ctx, m)
	}
}

// dispatch разбирает тело сообщения и передаёт job пайплайну.
// Исход пайплайна не влияет на продолжение цикла.
func (p *Poller) dispatch(ctx context.Context, m *mq.Message) {
	if p.cfg.MaxReceiveCount > 0 && m.Attempt > p.cfg.MaxReceiveCount {
		p.logger.Warn("receive count exceeded, dead-lettering",
			"handle", m.Handle,
			"attempt", m.Attempt,
		)
		telemetry.JobsTotal.WithLabelValues("dead_letter").Inc()
		if err := p.queue.DeadLetter(ctx, m); err != nil {
			p.logger.Error("dead-letter failed", "error", err)
		}
		return
	}

	d, err := job.Parse(m.Body)
	if err != nil {
		if errors.Is(err, job.ErrMalformedBody) {
			// Нечитаемое тело не станет читаемым от повторной доставки.
			p.logger.Error("malformed message body, dead-lettering",
				"handle", m.Handle,
				"error", err,
			)
			telemetry.JobsTotal.WithLabelValues("dead_letter").Inc()
			if dlErr := p.queue.DeadLetter(ctx, m); dlErr != nil {
				p.logger.Error("dead-letter failed", "error", dlErr)
			}
			return
		}
		p.logger.Error("parse failed", "handle", m.Handle, "error", err)
		return
	}

	p.logger.Info("job received",
		"job_id", d.ID,
		"original", d.Original,
		"destination", d.Destination,
		"strategy", d.Strategy,
		"attempt", m.Attempt,
	)

	if err := p.pipeline.Process(ctx, d, m); err != nil {
		p.logger.Warn("job failed", "job_id", d.ID, "error", err)
	}
}

// idle выдерживает минимальную паузу с учётом контекста.
func (p *Poller) idle(ctx context.Context) {
	backoff := p.cfg.IdleBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
