package worker

import "errors"

// Ошибки пайплайна.
var (
	// ErrDownloadFailed — исходник не удалось скачать; сообщение
	// остаётся в очереди для повторной доставки.
	ErrDownloadFailed = errors.New("source download failed")

	// ErrUploadFailed — хотя бы одна выгрузка не удалась; подтверждение
	// сообщения блокируется.
	ErrUploadFailed = errors.New("thumbnail upload failed")

	// ErrJobInvalid — job не проходит валидацию и не может быть
	// обработан ни при какой повторной доставке.
	ErrJobInvalid = errors.New("job is invalid")
)
