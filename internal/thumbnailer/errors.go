package thumbnailer

import "errors"

// Ошибки выполнения конвертации.
var (
	// ErrNoFilesCreated — процесс завершился успешно, но не создал
	// ни одного файла. Защита от молча-неверных команд конвертации.
	ErrNoFilesCreated = errors.New("no files created")

	// ErrConversionTimeout — внешний процесс превысил лимит времени.
	ErrConversionTimeout = errors.New("conversion timed out")

	// ErrConversionFailed — внешний процесс завершился с ошибкой.
	ErrConversionFailed = errors.New("conversion failed")
)
