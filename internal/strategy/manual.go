package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// manualPattern — sprintf-style именованный плейсхолдер: "%(name)s".
// Наличие хотя бы одного плейсхолдера переводит стратегию в режим manual.
var manualPattern = regexp.MustCompile(`%\(([^()]+)\)[sd]`)

// indexedPath — обращение к элементу localPaths: "localPaths[2]".
var indexedPath = regexp.MustCompile(`^localPaths\[(\d+)\]$`)

// legacyIndexedPath — то же обращение в единственном числе, из старых шаблонов.
var legacyIndexedPath = regexp.MustCompile(`^localPath\[(\d+)\]$`)

// IsManual сообщает, является ли значение стратегии manual-шаблоном.
func IsManual(name string) bool {
	return manualPattern.MatchString(name)
}

// renderManual подставляет значения Request в manual-шаблон.
//
// Разрешённый набор полей фиксирован: command, convertedPath, width,
// height, format, background, quality, destination и localPaths[i].
// Плейсхолдер вне набора — ошибка, шаблон отклоняется до запуска
// внешнего процесса.
func renderManual(tmpl string, req *Request) (string, error) {
	var substErr error

	rendered := manualPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := manualPattern.FindStringSubmatch(m)[1]

		value, err := req.field(name)
		if err != nil && substErr == nil {
			substErr = err
		}
		return value
	})

	if substErr != nil {
		return "", substErr
	}
	return rendered, nil
}

// field возвращает строковое значение поля Request по имени плейсхолдера.
func (r *Request) field(name string) (string, error) {
	switch name {
	case "command":
		return r.Command, nil
	case "convertedPath":
		return r.ConvertedPath, nil
	case "width":
		return strconv.Itoa(r.Width), nil
	case "height":
		return strconv.Itoa(r.Height), nil
	case "format":
		return r.Format, nil
	case "background":
		return r.Background, nil
	case "quality":
		return strconv.Itoa(r.Quality), nil
	case "destination":
		return r.Destination, nil
	}

	if m := indexedPath.FindStringSubmatch(name); m != nil {
		i, _ := strconv.Atoi(m[1])
		if i >= len(r.LocalPaths) {
			return "", fmt.Errorf("%w: localPaths[%d] of %d", ErrBadIndex, i, len(r.LocalPaths))
		}
		return r.LocalPaths[i], nil
	}

	// Поддерживаем и единственное число, как в старых шаблонах.
	if m := legacyIndexedPath.FindStringSubmatch(name); m != nil {
		return r.field("localPaths[" + m[1] + "]")
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownField, strings.TrimSpace(name))
}
