package job

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Значения по умолчанию для необязательных полей job.
const (
	DefaultFormat     = "png"
	DefaultStrategy   = "pdf"
	DefaultBackground = "black"
)

// Ошибки разбора сообщений.
var (
	// ErrMalformedBody — тело сообщения не является ни JSON,
	// ни base64-кодированным JSON.
	ErrMalformedBody = errors.New("malformed message body")

	// ErrMissingOriginal — job не задаёт исходный объект.
	ErrMissingOriginal = errors.New("job has no original key")

	// ErrMissingDestination — job не задаёт целевой ключ.
	ErrMissingDestination = errors.New("job has no destination key")
)

// Description — единица работы, десериализованная из тела сообщения очереди.
//
// Description создаётся при получении одного сообщения и живёт до конца
// обработки (успех или отказ). Все поля, которые использует конвертация,
// принадлежат одному экземпляру — разделяемого состояния между jobs нет.
type Description struct {
	// ID — непрозрачный идентификатор корреляции, возвращается в ответе.
	ID string `json:"id"`

	// Bucket и Region переопределяют значения процесса для этого job.
	Bucket string `json:"bucket,omitempty"`
	Region string `json:"region,omitempty"`

	// Original — ключ исходного объекта в object storage. Обязателен.
	Original string `json:"original"`

	// Destination — целевой ключ/префикс для результатов. Обязателен.
	Destination string `json:"destination"`

	// Width и Height требуются стратегиями, которые меняют размер.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	// Format — расширение результата. По умолчанию "png".
	Format string `json:"format,omitempty"`

	// Strategy — имя встроенной стратегии либо inline-шаблон команды
	// (manual). По умолчанию "pdf".
	Strategy string `json:"strategy,omitempty"`

	// Background — цвет подложки для стратегии matted. По умолчанию "black".
	Background string `json:"background,omitempty"`

	// Quality — качество результата; 0 означает "не задано",
	// флаг качества тогда не передаётся вовсе.
	Quality int `json:"quality,omitempty"`

	// Command переопределяет путь к бинарю конвертации.
	Command string `json:"command,omitempty"`

	// Queue — дискриминатор очереди ответов: ответ уходит
	// в "{queue}_{suffix}", если поле задано.
	Queue string `json:"queue,omitempty"`

	// Notify — необязательный callback URL, вызывается после обработки.
	Notify string `json:"notify,omitempty"`
}

// Parse разбирает тело сообщения очереди.
//
// Принимается или JSON-строка, или base64-кодированная JSON-строка.
// Любой другой вариант — ErrMalformedBody.
func Parse(body []byte) (*Description, error) {
	var d Description

	if err := json.Unmarshal(body, &d); err != nil {
		decoded, decErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
		if err := json.Unmarshal(decoded, &d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
		}
	}

	d.applyDefaults()
	return &d, nil
}

// applyDefaults заполняет необязательные поля значениями по умолчанию.
func (d *Description) applyDefaults() {
	if d.Format == "" {
		d.Format = DefaultFormat
	}
	if d.Strategy == "" {
		d.Strategy = DefaultStrategy
	}
	if d.Background == "" {
		d.Background = DefaultBackground
	}
}

// Validate проверяет обязательные поля.
func (d *Description) Validate() error {
	if d.Original == "" {
		return ErrMissingOriginal
	}
	if d.Destination == "" {
		return ErrMissingDestination
	}
	return nil
}

// RemoteKey возвращает детерминированный ключ для одного произведённого
// файла: "{destination без расширения}.{имя локального файла}".
func (d *Description) RemoteKey(localName string) string {
	dest := d.Destination
	if i := strings.LastIndex(dest, "."); i > strings.LastIndex(dest, "/") {
		dest = dest[:i]
	}
	return dest + "." + localName
}

// ReplyQueue возвращает имя очереди ответов для job.
// Конвенция: "{job.queue}_{suffix}" при заданном queue, иначе fallback.
func (d *Description) ReplyQueue(suffix, fallback string) string {
	if d.Queue == "" {
		return fallback
	}
	return d.Queue + "_" + suffix
}

// Reply — сообщение о завершении обработки одного job.
type Reply struct {
	// ID — идентификатор корреляции из job.
	ID string `json:"id"`

	// Files — ключи выгруженных результатов, в порядке листинга.
	Files []string `json:"files"`

	// QRCode — payload QR-кода из первого результата, либо пустая строка.
	QRCode string `json:"qrcode"`
}

// Encode сериализует ответ для отправки в очередь.
func (r *Reply) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	return b, nil
}
