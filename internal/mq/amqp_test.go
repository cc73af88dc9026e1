package mq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cbwheadon/thumbd/internal/config"
)

func TestDeliveryAttempt(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		expected int
	}{
		{
			name:     "first delivery",
			delivery: amqp.Delivery{},
			expected: 1,
		},
		{
			name:     "redelivered without headers",
			delivery: amqp.Delivery{Redelivered: true},
			expected: 2,
		},
		{
			// x-death точнее флага Redelivered
			name: "x-death count",
			delivery: amqp.Delivery{
				Redelivered: true,
				Headers: amqp.Table{
					"x-death": []any{
						amqp.Table{"count": int64(4), "queue": "thumbnails"},
					},
				},
			},
			expected: 5,
		},
		{
			name: "malformed x-death ignored",
			delivery: amqp.Delivery{
				Headers: amqp.Table{"x-death": "oops"},
			},
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deliveryAttempt(tt.delivery); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestAMQP_TopologyOwnsQueueDeclarations(t *testing.T) {
	cfg := &config.Config{Queue: "thumbnails", DeadLetterQueue: "thumbnails-dlq"}
	a := &AMQP{cfg: cfg, declared: make(map[string]bool)}

	// Топология объявляет основную очередь (с DLX-аргументами) и терминальную
	a.markDeclared(cfg.Queue)
	a.markDeclared(cfg.DeadLetterQueue)

	// Send не переобъявляет их: объявление с nil-аргументами поверх
	// очереди с DLX-аргументами закрыло бы канал (PRECONDITION_FAILED)
	for _, queue := range []string{"thumbnails", "thumbnails-dlq"} {
		if !a.isDeclared(queue) {
			t.Errorf("%s must be owned by topology, Send would redeclare it", queue)
		}
	}

	// Очередь ответов объявляется лениво и ровно один раз
	if a.isDeclared("orders_reply") {
		t.Error("reply queue must not be pre-declared")
	}
	a.markDeclared("orders_reply")
	if !a.isDeclared("orders_reply") {
		t.Error("reply queue must be remembered after the first declare")
	}
}
