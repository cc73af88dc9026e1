package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Значения по умолчанию.
const (
	defaultConvertCommand  = "convert"
	defaultConvertTimeout  = 20 * time.Second
	defaultWaitTime        = 20 * time.Second
	defaultVisibility      = 2 * time.Minute
	defaultIdleBackoff     = time.Second
	defaultMaxReceiveCount = 5
	defaultReplySuffix     = "reply"
)

// Config — конфигурация процесса thumbd.
//
// Собирается один раз при старте из переменных окружения и флагов CLI
// и передаётся по ссылке в конструкторы Poller, Pipeline и транспортов.
// Глобального изменяемого состояния нет: переопределения bucket/region
// на уровне отдельного job передаются обычными аргументами.
type Config struct {
	// AWS credentials и регион по умолчанию.
	AWSKey    string
	AWSSecret string
	AWSRegion string

	// Queue — имя основной очереди заданий.
	Queue string

	// AMQPURL — адрес AMQP-брокера. Когда задан, вместо SQS
	// используется AMQP-транспорт (развёртывания без AWS).
	AMQPURL string

	// ReplyQueue — очередь ответов по умолчанию, когда job не задаёт
	// поле queue. ReplySuffix добавляется к job.queue через подчёркивание:
	// "{queue}_{suffix}".
	ReplyQueue  string
	ReplySuffix string

	// DeadLetterQueue — терминальная очередь для сообщений, исчерпавших
	// попытки, и для тел, которые не удалось разобрать.
	DeadLetterQueue string

	// Bucket — S3 bucket по умолчанию (job.bucket имеет приоритет).
	Bucket         string
	S3ACL          string
	S3StorageClass string

	// ConvertCommand — путь к бинарю конвертации (job.command имеет приоритет).
	ConvertCommand string

	// ConvertTimeout — ограничение по времени на один внешний процесс.
	ConvertTimeout time.Duration

	// TmpDir — корень для scratch-каталогов конвертации.
	TmpDir string

	// WaitTime — длительность long-poll при получении сообщения.
	// VisibilityTimeout — блокировка сообщения на время обработки.
	WaitTime          time.Duration
	VisibilityTimeout time.Duration

	// IdleBackoff — минимальная пауза после пустого получения или
	// ошибки транспорта. Защищает от busy-poll при нулевом WaitTime.
	IdleBackoff time.Duration

	// MaxReceiveCount — порог доставок, после которого сообщение
	// уходит в DeadLetterQueue вместо бесконечного redelivery.
	MaxReceiveCount int
}

// Load собирает конфигурацию из переменных окружения.
func Load() *Config {
	return &Config{
		AWSKey:            os.Getenv("AWS_KEY"),
		AWSSecret:         os.Getenv("AWS_SECRET"),
		AWSRegion:         getenv("AWS_REGION", "us-east-1"),
		Queue:             os.Getenv("SQS_QUEUE"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		ReplyQueue:        os.Getenv("SQS_REPLY_QUEUE"),
		ReplySuffix:       getenv("SQS_REPLY_SUFFIX", defaultReplySuffix),
		DeadLetterQueue:   os.Getenv("SQS_DEAD_LETTER_QUEUE"),
		Bucket:            os.Getenv("BUCKET"),
		S3ACL:             getenv("S3_ACL", "private"),
		S3StorageClass:    getenv("S3_STORAGE_CLASS", "STANDARD"),
		ConvertCommand:    getenv("CONVERT_COMMAND", defaultConvertCommand),
		ConvertTimeout:    getduration("CONVERT_TIMEOUT", defaultConvertTimeout),
		TmpDir:            getenv("TMP_DIR", os.TempDir()),
		WaitTime:          getduration("SQS_WAIT_TIME", defaultWaitTime),
		VisibilityTimeout: getduration("SQS_VISIBILITY_TIMEOUT", defaultVisibility),
		IdleBackoff:       getduration("IDLE_BACKOFF", defaultIdleBackoff),
		MaxReceiveCount:   getint("MAX_RECEIVE_COUNT", defaultMaxReceiveCount),
	}
}

// Validate проверяет, что обязательные поля заполнены.
func (c *Config) Validate() error {
	var missing []string

	if c.Queue == "" {
		missing = append(missing, "SQS_QUEUE")
	}
	if c.Bucket == "" {
		missing = append(missing, "BUCKET")
	}
	if !c.IsAMQP() && c.AWSKey == "" {
		missing = append(missing, "AWS_KEY")
	}
	if !c.IsAMQP() && c.AWSSecret == "" {
		missing = append(missing, "AWS_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingOption, strings.Join(missing, ", "))
	}
	return nil
}

// IsAMQP сообщает, выбран ли AMQP-транспорт.
func (c *Config) IsAMQP() bool {
	return c.AMQPURL != ""
}

// ErrMissingOption — не задана обязательная опция конфигурации.
var ErrMissingOption = errors.New("missing required option")

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Допускаем как Go-длительности ("30s"), так и голые миллисекунды.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
