package thumbnailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbwheadon/thumbd/internal/job"
	"github.com/cbwheadon/thumbd/internal/strategy"
	"github.com/cbwheadon/thumbd/internal/telemetry"
)

// DefaultTimeout — лимит времени одной конвертации по умолчанию.
const DefaultTimeout = 20 * time.Second

// Thumbnailer выполняет одну конвертацию: выделяет scratch-каталог,
// разрешает стратегию и запускает внешний процесс с таймаутом.
type Thumbnailer struct {
	// ConvertCommand — бинарь конвертации по умолчанию
	// (job.command имеет приоритет).
	ConvertCommand string

	// TmpRoot — корень для scratch-каталогов.
	TmpRoot string

	// Timeout — ограничение по времени на внешний процесс.
	Timeout time.Duration

	logger *slog.Logger
}

// New создаёт Thumbnailer.
func New(convertCommand, tmpRoot string, timeout time.Duration, logger *slog.Logger) *Thumbnailer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Thumbnailer{
		ConvertCommand: convertCommand,
		TmpRoot:        tmpRoot,
		Timeout:        timeout,
		logger:         logger,
	}
}

// Result — упорядоченный листинг файлов, произведённых одной конвертацией.
// Result владеет своим scratch-каталогом до вызова Cleanup.
type Result struct {
	// Dir — scratch-каталог конвертации.
	Dir string

	// Files — имена произведённых файлов, отсортированы.
	Files []string
}

// Paths возвращает полные пути произведённых файлов в порядке листинга.
func (r *Result) Paths() []string {
	paths := make([]string, len(r.Files))
	for i, name := range r.Files {
		paths[i] = filepath.Join(r.Dir, name)
	}
	return paths
}

// Cleanup удаляет scratch-каталог со всем содержимым.
// Вызывается после выгрузки всех файлов либо при отказе от job.
func (r *Result) Cleanup() error {
	if r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

// Execute выполняет конвертацию для job.
//
// Шаги: scratch-каталог → разрешение стратегии → внешний процесс
// с таймаутом → листинг. Чистый выход процесса с пустым листингом —
// ErrNoFilesCreated. При любой ошибке scratch-каталог удаляется здесь же.
func (t *Thumbnailer) Execute(ctx context.Context, d *job.Description, localPaths ...string) (*Result, error) {
	if len(localPaths) == 0 {
		return nil, fmt.Errorf("%w: no input paths", ErrConversionFailed)
	}

	// Уникальное имя защищает от коллизий между одновременными jobs.
	dir := filepath.Join(t.TmpRoot, "thumb-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	req := strategy.NewRequest(d, localPaths, dir, t.ConvertCommand)

	command, err := strategy.Resolve(d.Strategy, req)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if err := t.run(ctx, command, d.Strategy); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	files, err := listDir(dir)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("list scratch dir: %w", err)
	}
	if len(files) == 0 {
		os.RemoveAll(dir)
		return nil, ErrNoFilesCreated
	}

	return &Result{Dir: dir, Files: files}, nil
}

// run запускает командную строку через shell с ограничением по времени.
func (t *Thumbnailer) run(ctx context.Context, command, strategyName string) error {
	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	label := strategyName
	if strategy.IsManual(strategyName) {
		label = "manual"
	}

	t.logger.Debug("running conversion", "command", command)

	start := time.Now()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	output, err := cmd.CombinedOutput()
	telemetry.ConversionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrConversionTimeout, t.Timeout)
		}
		return fmt.Errorf("%w: %v: %s", ErrConversionFailed, err, truncate(string(output), 200))
	}

	return nil
}

// listDir возвращает отсортированные имена файлов каталога.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
