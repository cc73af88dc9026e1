package mq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cbwheadon/thumbd/internal/config"
)

// sqsAPI — подмножество клиента SQS, которое использует транспорт.
// Выделено в интерфейс ради тестов.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQS — транспорт очереди поверх AWS SQS.
//
// Retry делегирован самой очереди: необработанное сообщение снова станет
// видимым после истечения visibility timeout. URL очередей резолвятся
// по имени и кэшируются.
type SQS struct {
	client sqsAPI
	cfg    *config.Config
	logger *slog.Logger

	mu   sync.Mutex
	urls map[string]string
}

// NewSQS создаёт SQS-транспорт.
func NewSQS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SQS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSKey, cfg.AWSSecret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQS{
		client: sqs.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: logger,
		urls:   make(map[string]string),
	}, nil
}

// queueURL резолвит и кэширует URL очереди по имени.
func (s *SQS) queueURL(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if url, ok := s.urls[name]; ok {
		s.mu.Unlock()
		return url, nil
	}
	s.mu.Unlock()

	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("resolve queue %q: %w", name, err)
	}

	s.mu.Lock()
	s.urls[name] = *out.QueueUrl
	s.mu.Unlock()

	return *out.QueueUrl, nil
}

// Receive запрашивает не более одного сообщения с long-poll ожиданием
// и visibility-блокировкой из конфигурации.
func (s *SQS) Receive(ctx context.Context) (*Message, error) {
	url, err := s.queueURL(ctx, s.cfg.Queue)
	if err != nil {
		return nil, err
	}

	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(s.cfg.WaitTime.Seconds()),
		VisibilityTimeout:   int32(s.cfg.VisibilityTimeout.Seconds()),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	raw := out.Messages[0]

	attempt := 1
	if v, ok := raw.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}

	return &Message{
		Body:    []byte(aws.ToString(raw.Body)),
		Handle:  aws.ToString(raw.ReceiptHandle),
		Attempt: attempt,
		raw:     raw,
	}, nil
}

// Delete удаляет сообщение из основной очереди.
func (s *SQS) Delete(ctx context.Context, m *Message) error {
	url, err := s.queueURL(ctx, s.cfg.Queue)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(m.Handle),
	}); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Release обнуляет visibility timeout: сообщение становится видимым
// сразу, не дожидаясь истечения блокировки.
func (s *SQS) Release(ctx context.Context, m *Message) error {
	url, err := s.queueURL(ctx, s.cfg.Queue)
	if err != nil {
		return err
	}

	if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(url),
		ReceiptHandle:     aws.String(m.Handle),
		VisibilityTimeout: 0,
	}); err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return nil
}

// DeadLetter пересылает тело в терминальную очередь и удаляет оригинал.
// Без сконфигурированной DLQ сообщение удаляется с предупреждением —
// иначе отравленное сообщение крутилось бы бесконечно.
func (s *SQS) DeadLetter(ctx context.Context, m *Message) error {
	if s.cfg.DeadLetterQueue != "" {
		if err := s.Send(ctx, s.cfg.DeadLetterQueue, m.Body); err != nil {
			return err
		}
	} else {
		s.logger.Warn("no dead-letter queue configured, dropping message", "handle", m.Handle)
	}
	return s.Delete(ctx, m)
}

// Send отправляет тело в именованную очередь.
func (s *SQS) Send(ctx context.Context, queue string, body []byte) error {
	url, err := s.queueURL(ctx, queue)
	if err != nil {
		return err
	}

	if _, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	}); err != nil {
		return fmt.Errorf("send to %q: %w", queue, err)
	}
	return nil
}

// Close ничего не освобождает: клиент SQS не держит соединений.
func (s *SQS) Close() error { return nil }
