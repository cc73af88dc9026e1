package strategy

import (
	"fmt"

	"github.com/cbwheadon/thumbd/internal/job"
)

// Request — разрешённая, исполняемая форма job: локальные входные файлы
// плюс свежевыделенный выходной каталог. Каталог принадлежит одной
// конвертации и является её единственным выходным артефактом.
type Request struct {
	// LocalPaths — локальные входные файлы (обычно один).
	LocalPaths []string

	// ConvertedPath — каталог для результатов конвертации.
	ConvertedPath string

	// Command — бинарь конвертации (после применения job.command
	// и значения по умолчанию из конфигурации).
	Command string

	// Поля из job.Description, используемые стратегиями.
	Width       int
	Height      int
	Format      string
	Background  string
	Quality     int
	Destination string
}

// NewRequest собирает Request из job и окружения конвертации.
func NewRequest(d *job.Description, localPaths []string, convertedPath, defaultCommand string) *Request {
	command := d.Command
	if command == "" {
		command = defaultCommand
	}
	return &Request{
		LocalPaths:    localPaths,
		ConvertedPath: convertedPath,
		Command:       command,
		Width:         d.Width,
		Height:        d.Height,
		Format:        d.Format,
		Background:    d.Background,
		Quality:       d.Quality,
		Destination:   d.Destination,
	}
}

// builder — чистая функция от Request к командной строке.
type builder struct {
	needsDimensions bool
	build           func(r *Request) string
}

// builtins — реестр встроенных стратегий.
//
// Пять встроенных стратегий покрывают типовые идиомы thumbnail-конвертации;
// произвольные конвертации операторы добавляют через manual-шаблон
// без редеплоя.
var builtins = map[string]builder{
	// pdf: одна страница — один файл "{page}.{format}", плоский фон,
	// фиксированная плотность 200. Width/height/quality игнорируются.
	"pdf": {build: func(r *Request) string {
		return fmt.Sprintf(`%s -fuzz 20%% -transparent none -density 200 -trim "%s" -depth 8 "%s/%%d.%s"`,
			r.Command, r.LocalPaths[0], r.ConvertedPath, r.Format)
	}},

	// matted: вписать в width×height поверх сплошной подложки того же
	// размера, центрирование.
	"matted": {needsDimensions: true, build: func(r *Request) string {
		dims := fmt.Sprintf("%dx%d", r.Width, r.Height)
		return fmt.Sprintf(`%s "%s[0]" -resize %s -size %s xc:%s +swap -gravity center%s -composite "%s"`,
			r.Command, r.LocalPaths[0], dims, dims, r.Background, qualityFlag(r.Quality), r.outFile())
	}},

	// bounded: вписать в width×height с сохранением пропорций, без кропа.
	"bounded": {needsDimensions: true, build: func(r *Request) string {
		dims := fmt.Sprintf("%dx%d", r.Width, r.Height)
		return fmt.Sprintf(`%s "%s[0]" -thumbnail %s%s "%s"`,
			r.Command, r.LocalPaths[0], dims, qualityFlag(r.Quality), r.outFile())
	}},

	// fill: заполнить width×height и обрезать по центру до точного размера.
	"fill": {needsDimensions: true, build: func(r *Request) string {
		dims := fmt.Sprintf("%dx%d", r.Width, r.Height)
		return fmt.Sprintf(`%s "%s[0]" -resize %s^ -gravity center -extent %s%s "%s"`,
			r.Command, r.LocalPaths[0], dims, dims, qualityFlag(r.Quality), r.outFile())
	}},

	// strict: точный размер width×height, пропорции игнорируются.
	"strict": {needsDimensions: true, build: func(r *Request) string {
		dims := fmt.Sprintf("%dx%d", r.Width, r.Height)
		return fmt.Sprintf(`%s "%s[0]" -resize %s!%s "%s"`,
			r.Command, r.LocalPaths[0], dims, qualityFlag(r.Quality), r.outFile())
	}},
}

// outFile — путь единственного результата для однофайловых стратегий.
// Файл всегда кладётся внутрь ConvertedPath: листинг каталога — единственный
// выходной контракт конвертации.
func (r *Request) outFile() string {
	return fmt.Sprintf("%s/0.%s", r.ConvertedPath, r.Format)
}

// qualityFlag возвращает " -quality N" при ненулевом качестве
// и пустую строку иначе. Нулевое качество никогда не передаётся как флаг.
func qualityFlag(q int) string {
	if q == 0 {
		return ""
	}
	return fmt.Sprintf(" -quality %d", q)
}

// Resolve отображает имя стратегии job на командную строку внешнего процесса.
//
// Имя, содержащее sprintf-плейсхолдер %(name)s, трактуется как
// manual-шаблон; иначе оно обязано совпасть с одной из встроенных
// стратегий, либо возвращается ErrStrategyNotFound.
func Resolve(name string, req *Request) (string, error) {
	if IsManual(name) {
		return renderManual(name, req)
	}

	b, ok := builtins[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrStrategyNotFound, name)
	}
	if b.needsDimensions && (req.Width <= 0 || req.Height <= 0) {
		return "", fmt.Errorf("%w: %q", ErrMissingDimensions, name)
	}
	return b.build(req), nil
}

// Known сообщает, зарегистрирована ли встроенная стратегия с таким именем.
func Known(name string) bool {
	_, ok := builtins[name]
	return ok
}
