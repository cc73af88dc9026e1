// Package mq предоставляет транспорт очереди сообщений.
//
// Структура:
//   - queue.go      — абстракция Queue и Message (visibility-блокировка)
//   - sqs.go        — основной транспорт поверх AWS SQS
//   - connection.go — AMQP соединение с reconnect
//   - amqp.go       — альтернативный транспорт поверх RabbitMQ
//
// Пайплайн видит только интерфейс Queue: получить с блокировкой,
// удалить, вернуть, отправить, dead-letter. Выбор транспорта —
// вопрос конфигурации процесса (AMQP_URL).
package mq
