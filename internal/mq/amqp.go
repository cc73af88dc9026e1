package mq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cbwheadon/thumbd/internal/config"
)

// DLX-топология для AMQP-развёртываний.
const (
	deadLetterExchange = "thumbd.dlq"
	deadLetterRouting  = "jobs"
)

// AMQP — транспорт очереди поверх RabbitMQ.
//
// Семантика блокировки отображается на manual ack: пока сообщение
// не подтверждено, брокер не отдаёт его другим потребителям.
// Delete = Ack, Release = Nack с requeue, DeadLetter = Nack в DLX.
type AMQP struct {
	conn   *Connection
	cfg    *config.Config
	logger *slog.Logger

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	declared   map[string]bool
	closed     bool
}

// NewAMQP подключается к брокеру и объявляет топологию.
func NewAMQP(cfg *config.Config, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := NewConnection(cfg.AMQPURL, logger)
	if err != nil {
		return nil, err
	}

	a := &AMQP{conn: conn, cfg: cfg, logger: logger, declared: make(map[string]bool)}
	if err := a.setupTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// setupTopology объявляет основную очередь с DLX и терминальную очередь.
func (a *AMQP) setupTopology() error {
	ch := a.conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	if err := ch.ExchangeDeclare(
		deadLetterExchange, // name
		"direct",           // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", deadLetterExchange, err)
	}

	// Основная очередь: отклонённые без requeue сообщения уходят в DLX.
	mainArgs := amqp.Table{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": deadLetterRouting,
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", a.cfg.Queue, err)
	}
	a.markDeclared(a.cfg.Queue)

	if a.cfg.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(a.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", a.cfg.DeadLetterQueue, err)
		}
		if err := ch.QueueBind(a.cfg.DeadLetterQueue, deadLetterRouting, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", a.cfg.DeadLetterQueue, deadLetterExchange, err)
		}
		a.markDeclared(a.cfg.DeadLetterQueue)
	}

	return nil
}

// markDeclared запоминает очередь как уже объявленную на этом транспорте.
func (a *AMQP) markDeclared(queue string) {
	a.mu.Lock()
	a.declared[queue] = true
	a.mu.Unlock()
}

// isDeclared сообщает, объявлена ли очередь этим транспортом.
func (a *AMQP) isDeclared(queue string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.declared[queue]
}

// ensureConsumer настраивает канал доставки (однократно после каждого
// переподключения).
func (a *AMQP) ensureConsumer() (<-chan amqp.Delivery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrQueueClosed
	}
	if a.deliveries != nil {
		return a.deliveries, nil
	}

	ch := a.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	// Prefetch 1: одно сообщение в обработке на процесс.
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		a.cfg.Queue, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack (мы ack вручную)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	a.deliveries = deliveries
	return deliveries, nil
}

// resetConsumer сбрасывает канал доставки после разрыва.
func (a *AMQP) resetConsumer() {
	a.mu.Lock()
	a.deliveries = nil
	a.mu.Unlock()
}

// Receive ждёт одно сообщение не дольше WaitTime.
func (a *AMQP) Receive(ctx context.Context) (*Message, error) {
	deliveries, err := a.ensureConsumer()
	if err != nil {
		return nil, err
	}

	wait := a.cfg.WaitTime
	if wait <= 0 {
		wait = time.Second
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-a.conn.ReconnectNotify():
		a.resetConsumer()
		return nil, nil

	case raw, ok := <-deliveries:
		if !ok {
			a.resetConsumer()
			return nil, fmt.Errorf("deliveries channel closed")
		}
		return &Message{
			Body:    raw.Body,
			Handle:  strconv.FormatUint(raw.DeliveryTag, 10),
			Attempt: deliveryAttempt(raw),
			raw:     raw,
		}, nil

	case <-timer.C:
		return nil, nil
	}
}

// deliveryAttempt оценивает количество доставок по заголовкам брокера.
func deliveryAttempt(d amqp.Delivery) int {
	attempt := 1
	if d.Redelivered {
		attempt = 2
	}

	// x-death ведёт точный счёт проходов через DLX/requeue циклы.
	if deaths, ok := d.Headers["x-death"].([]any); ok {
		for _, entry := range deaths {
			if t, ok := entry.(amqp.Table); ok {
				if n, ok := t["count"].(int64); ok {
					attempt = int(n) + 1
				}
			}
		}
	}
	return attempt
}

// Delete подтверждает обработку сообщения.
func (a *AMQP) Delete(_ context.Context, m *Message) error {
	raw, ok := m.raw.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("not an amqp delivery: %s", m.Handle)
	}
	return raw.Ack(false)
}

// Release возвращает сообщение в очередь для повторной доставки.
func (a *AMQP) Release(_ context.Context, m *Message) error {
	raw, ok := m.raw.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("not an amqp delivery: %s", m.Handle)
	}
	return raw.Nack(false, true)
}

// DeadLetter отклоняет сообщение без requeue: брокер направит его
// в DLX согласно аргументам очереди.
func (a *AMQP) DeadLetter(_ context.Context, m *Message) error {
	raw, ok := m.raw.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("not an amqp delivery: %s", m.Handle)
	}
	return raw.Nack(false, false)
}

// Send публикует тело в именованную очередь через default exchange.
func (a *AMQP) Send(ctx context.Context, queue string, body []byte) error {
	ch := a.conn.Channel()
	if ch == nil {
		return fmt.Errorf("no channel available")
	}

	// Основная и терминальная очереди принадлежат топологии: их аргументы
	// (DLX) отличаются, а повторное объявление с другими аргументами
	// закрывает канал ошибкой PRECONDITION_FAILED. Очереди ответов
	// объявляются лениво, по одному разу на транспорт.
	if !a.isDeclared(queue) {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		a.markDeclared(queue)
	}

	err := ch.PublishWithContext(
		ctx,
		"",    // default exchange
		queue, // routing key = имя очереди
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Close закрывает соединение с брокером.
func (a *AMQP) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.conn.Close()
}
