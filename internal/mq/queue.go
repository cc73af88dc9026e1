package mq

import (
	"context"
	"errors"
)

// ErrQueueClosed — транспорт закрыт.
var ErrQueueClosed = errors.New("queue transport closed")

// Message — доставленное сообщение вместе с дескриптором блокировки.
//
// Пока сообщение не удалено (Delete) и не возвращено (Release), транспорт
// держит на нём visibility-блокировку: другие потребители его не видят.
type Message struct {
	// Body — сырое тело сообщения.
	Body []byte

	// Handle — дескриптор блокировки (receipt handle у SQS,
	// delivery tag у AMQP). Для логов и отладки.
	Handle string

	// Attempt — приблизительное количество доставок этого сообщения,
	// начиная с 1. Источник порога dead-letter.
	Attempt int

	// raw — транспортно-специфичное представление доставки.
	raw any
}

// Queue — абстракция транспорта очереди, достаточная для пайплайна.
//
// Реализации: SQS (основная) и AMQP (для развёртываний без AWS).
type Queue interface {
	// Receive получает не более одного сообщения с visibility-блокировкой
	// и long-poll ожиданием. Пустой poll — (nil, nil).
	Receive(ctx context.Context) (*Message, error)

	// Delete подтверждает обработку: сообщение удаляется навсегда.
	Delete(ctx context.Context, m *Message) error

	// Release досрочно снимает блокировку, возвращая сообщение
	// в очередь для повторной доставки.
	Release(ctx context.Context, m *Message) error

	// DeadLetter направляет сообщение в терминальную очередь
	// и удаляет его из основной.
	DeadLetter(ctx context.Context, m *Message) error

	// Send отправляет тело в именованную очередь (ответы, dead-letter,
	// постановка заданий клиентом).
	Send(ctx context.Context, queue string, body []byte) error

	// Close освобождает ресурсы транспорта.
	Close() error
}
