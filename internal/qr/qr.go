// Package qr извлекает payload QR-кода из произведённого изображения.
//
// Извлечение всегда best-effort: любой сбой (нечитаемый файл, отсутствие
// кода на изображении) даёт пустую строку и никогда не валит job.
package qr

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder декодирует QR-коды из локальных файлов изображений.
type Decoder struct {
	logger *slog.Logger
}

// New создаёт Decoder.
func New(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Decode возвращает payload QR-кода из файла изображения
// либо пустую строку, если декодировать не удалось.
func (d *Decoder) Decode(path string) string {
	f, err := os.Open(path)
	if err != nil {
		d.logger.Debug("qr: open failed", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		d.logger.Debug("qr: image decode failed", "path", path, "error", err)
		return ""
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		d.logger.Debug("qr: bitmap failed", "path", path, "error", err)
		return ""
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		d.logger.Debug("qr: no code found", "path", path, "error", err)
		return ""
	}

	return result.GetText()
}
