package mq

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Параметры переподключения к брокеру.
const (
	redialBaseDelay = time.Second
	redialMaxDelay  = 30 * time.Second
)

// Connection держит живое AMQP-соединение с одним каналом.
//
// Разрыв соединения обрабатывается внутри: фоновая горутина передоговаривает
// соединение с экспоненциальной задержкой и сигналит потребителю через
// ReconnectNotify, что его consumer-канал мёртв и его нужно пересоздать.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	done     chan struct{}
	redialed chan struct{}
}

// NewConnection подключается к брокеру и запускает наблюдение за разрывами.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	c := &Connection{
		url:      url,
		logger:   logger,
		done:     make(chan struct{}),
		redialed: make(chan struct{}, 1),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}
	go c.watch()

	return c, nil
}

// dial устанавливает соединение и открывает канал.
func (c *Connection) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.logger.Info("connected to AMQP broker")
	return nil
}

// watch — цикл жизни соединения: ждать разрыва, передоговориться, повторить.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case err := <-notifyClose:
			if err != nil {
				c.logger.Warn("connection lost", "error", err)
			}
		}

		if !c.redial() {
			return
		}

		// Потребитель обязан пересоздать consume после разрыва.
		select {
		case c.redialed <- struct{}{}:
		default:
		}
	}
}

// redial переподключается с экспоненциальной задержкой.
// Возвращает false, если соединение было закрыто намеренно.
func (c *Connection) redial() bool {
	delay := redialBaseDelay

	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "delay", delay, "error", err)
			delay = min(delay*2, redialMaxDelay)
			continue
		}
		return true
	}
}

// Channel возвращает текущий канал. После разрыва, до завершения redial,
// может вернуть канал в закрытом состоянии — операции на нём вернут ошибку,
// и вызывающий повторит попытку на следующей итерации.
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// ReconnectNotify сигналит о завершённом переподключении.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	return c.redialed
}

// Close разрывает соединение и останавливает наблюдение.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	ch := c.channel
	c.mu.Unlock()

	close(c.done)

	if ch != nil {
		ch.Close()
	}
	if conn != nil {
		if err := conn.Close(); err != nil && err != amqp.ErrClosed {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}
