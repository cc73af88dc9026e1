package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cbwheadon/thumbd/internal/config"
	"github.com/cbwheadon/thumbd/internal/job"
	"github.com/cbwheadon/thumbd/internal/mq"
	"github.com/cbwheadon/thumbd/internal/thumbnailer"
)

// --- Фейковые коллабораторы ---

type sentMessage struct {
	queue string
	body  []byte
}

type fakeQueue struct {
	mu          sync.Mutex
	deletes     int
	releases    int
	deadLetters int
	sends       []sentMessage

	deleteErr error
	sendErr   error
}

func (q *fakeQueue) Receive(ctx context.Context) (*mq.Message, error) { return nil, nil }

func (q *fakeQueue) Delete(ctx context.Context, m *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.deletes++
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, m *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releases++
	return nil
}

func (q *fakeQueue) DeadLetter(ctx context.Context, m *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetters++
	return nil
}

func (q *fakeQueue) Send(ctx context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return q.sendErr
	}
	q.sends = append(q.sends, sentMessage{queue: queue, body: body})
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type savedObject struct {
	bucket    string
	localPath string
	key       string
}

type fakeStorage struct {
	mu          sync.Mutex
	downloadDir string
	downloadErr error
	saves       []savedObject
	saveErr     error
}

func (s *fakeStorage) Download(ctx context.Context, bucket, region, key string) (string, error) {
	if s.downloadErr != nil {
		return "", s.downloadErr
	}
	// Скачанный исходник — реальный файл: пайплайн удаляет его сам
	f, err := os.CreateTemp(s.downloadDir, "src-*")
	if err != nil {
		return "", err
	}
	f.Close()
	return f.Name(), nil
}

func (s *fakeStorage) Save(ctx context.Context, bucket, region, localPath, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves = append(s.saves, savedObject{bucket: bucket, localPath: localPath, key: key})
	return nil
}

type fakeConverter struct {
	root  string
	files []string
	err   error

	calls int
}

func (c *fakeConverter) Execute(ctx context.Context, d *job.Description, localPaths ...string) (*thumbnailer.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	dir, err := os.MkdirTemp(c.root, "thumb-*")
	if err != nil {
		return nil, err
	}
	for _, name := range c.files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644); err != nil {
			return nil, err
		}
	}
	return &thumbnailer.Result{Dir: dir, Files: c.files}, nil
}

type fakeQR struct{ payload string }

func (q *fakeQR) Decode(path string) string { return q.payload }

// --- Обвязка ---

func testConfig() *config.Config {
	return &config.Config{
		Queue:           "thumbnails",
		Bucket:          "media",
		ReplySuffix:     "reply",
		MaxReceiveCount: 5,
	}
}

func newTestPipeline(t *testing.T, queue *fakeQueue, storage *fakeStorage, conv *fakeConverter, qr *fakeQR) *Pipeline {
	t.Helper()
	if storage.downloadDir == "" {
		storage.downloadDir = t.TempDir()
	}
	if conv.root == "" {
		conv.root = t.TempDir()
	}
	return NewPipeline(testConfig(), storage, conv, qr, queue, nil)
}

func testDescription() *job.Description {
	d := &job.Description{
		ID:          "j-1",
		Original:    "a.pdf",
		Destination: "a_small",
		Queue:       "orders",
	}
	return d
}

// --- Сценарии ---

func TestProcess_Success(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, storage, conv, &fakeQR{payload: "hello"})

	err := p.Process(context.Background(), testDescription(), &mq.Message{Handle: "h1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Результат выгружен под детерминированным ключом
	if len(storage.saves) != 1 || storage.saves[0].key != "a_small.0.png" {
		t.Errorf("unexpected saves: %+v", storage.saves)
	}

	// Ответ ушёл в очередь "{queue}_{suffix}"
	if len(queue.sends) != 1 {
		t.Fatalf("expected one reply, got %d", len(queue.sends))
	}
	if queue.sends[0].queue != "orders_reply" {
		t.Errorf("reply queue: got %q", queue.sends[0].queue)
	}

	var reply job.Reply
	if err := json.Unmarshal(queue.sends[0].body, &reply); err != nil {
		t.Fatalf("reply body: %v", err)
	}
	if reply.ID != "j-1" {
		t.Errorf("reply id: got %q", reply.ID)
	}
	if len(reply.Files) != 1 || reply.Files[0] != "a_small.0.png" {
		t.Errorf("reply files: got %v", reply.Files)
	}
	if reply.QRCode != "hello" {
		t.Errorf("reply qrcode: got %q", reply.QRCode)
	}

	// Сообщение подтверждено ровно один раз
	if queue.deletes != 1 || queue.releases != 0 || queue.deadLetters != 0 {
		t.Errorf("message outcome: deletes=%d releases=%d deadLetters=%d",
			queue.deletes, queue.releases, queue.deadLetters)
	}
}

func TestProcess_MultipleFiles(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	conv := &fakeConverter{files: []string{"0.png", "1.png", "2.png"}}
	p := newTestPipeline(t, queue, storage, conv, &fakeQR{})

	if err := p.Process(context.Background(), testDescription(), &mq.Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(storage.saves) != 3 {
		t.Fatalf("expected 3 uploads, got %d", len(storage.saves))
	}

	var reply job.Reply
	if err := json.Unmarshal(queue.sends[0].body, &reply); err != nil {
		t.Fatal(err)
	}
	// Ключи идут в порядке листинга
	expected := []string{"a_small.0.png", "a_small.1.png", "a_small.2.png"}
	for i, key := range expected {
		if reply.Files[i] != key {
			t.Errorf("reply.Files[%d] = %q, expected %q", i, reply.Files[i], key)
		}
	}
}

func TestUploadAll_EveryResultUploaded(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	p := newTestPipeline(t, queue, storage, &fakeConverter{}, &fakeQR{})

	// Два варианта конвертации одного job: выгружаются файлы обоих,
	// ключи считаются по описанию своего варианта
	variants := []*job.Description{
		{Original: "a.pdf", Destination: "a_small"},
		{Original: "a.pdf", Destination: "a_large"},
	}
	results := []*thumbnailer.Result{
		{Dir: t.TempDir(), Files: []string{"0.png"}},
		{Dir: t.TempDir(), Files: []string{"0.png", "1.png"}},
	}

	remoteKeys, err := p.uploadAll(context.Background(), variants, results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"a_small.0.png", "a_large.0.png", "a_large.1.png"}
	if len(remoteKeys) != len(expected) {
		t.Fatalf("remote keys: %v", remoteKeys)
	}
	for i, key := range expected {
		if remoteKeys[i] != key {
			t.Errorf("remoteKeys[%d] = %q, expected %q", i, remoteKeys[i], key)
		}
	}
	if len(storage.saves) != 3 {
		t.Errorf("expected 3 uploads, got %d", len(storage.saves))
	}
}

func TestProcess_ConversionFailure(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	conv := &fakeConverter{err: errors.New("convert exploded")}
	p := newTestPipeline(t, queue, storage, conv, &fakeQR{})

	err := p.Process(context.Background(), testDescription(), &mq.Message{})
	if err == nil {
		t.Fatal("expected an error")
	}

	// Ни выгрузок, ни ответа, ни подтверждения; сообщение возвращено
	if len(storage.saves) != 0 {
		t.Errorf("no uploads expected, got %+v", storage.saves)
	}
	if len(queue.sends) != 0 {
		t.Errorf("no reply expected, got %+v", queue.sends)
	}
	if queue.deletes != 0 {
		t.Error("message must not be acknowledged")
	}
	if queue.releases != 1 {
		t.Errorf("expected one release, got %d", queue.releases)
	}
}

func TestProcess_UploadFailureBlocksAck(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{saveErr: errors.New("s3 is down")}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, storage, conv, &fakeQR{})

	err := p.Process(context.Background(), testDescription(), &mq.Message{})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}

	if queue.deletes != 0 {
		t.Error("ack is gated on uploads: message must not be deleted")
	}
	if queue.releases != 1 {
		t.Errorf("expected one release, got %d", queue.releases)
	}
	if len(queue.sends) != 0 {
		t.Error("no reply on failed upload")
	}
}

func TestProcess_DownloadFailure(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{downloadErr: errors.New("no such key")}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, storage, conv, &fakeQR{})

	err := p.Process(context.Background(), testDescription(), &mq.Message{})
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}

	if conv.calls != 0 {
		t.Error("conversion must not run without an input")
	}
	if queue.releases != 1 || queue.deletes != 0 {
		t.Errorf("message outcome: releases=%d deletes=%d", queue.releases, queue.deletes)
	}
}

func TestProcess_InvalidJobDeadLetters(t *testing.T) {
	queue := &fakeQueue{}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	d := testDescription()
	d.Original = ""

	err := p.Process(context.Background(), d, &mq.Message{})
	if !errors.Is(err, ErrJobInvalid) {
		t.Fatalf("expected ErrJobInvalid, got %v", err)
	}

	// Невалидный job уходит в dead-letter, а не обратно в очередь
	if queue.deadLetters != 1 || queue.releases != 0 {
		t.Errorf("deadLetters=%d releases=%d", queue.deadLetters, queue.releases)
	}
}

func TestProcess_ReplyFailureDoesNotBlockAck(t *testing.T) {
	queue := &fakeQueue{sendErr: errors.New("reply queue gone")}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	if err := p.Process(context.Background(), testDescription(), &mq.Message{}); err != nil {
		t.Fatalf("reply failure must not fail the job: %v", err)
	}
	if queue.deletes != 1 {
		t.Error("message must still be acknowledged")
	}
}

func TestProcess_NoReplyQueueConfigured(t *testing.T) {
	queue := &fakeQueue{}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	d := testDescription()
	d.Queue = "" // и ReplyQueue в конфигурации пуст

	if err := p.Process(context.Background(), d, &mq.Message{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.sends) != 0 {
		t.Errorf("no reply expected, got %+v", queue.sends)
	}
	if queue.deletes != 1 {
		t.Error("message must be acknowledged")
	}
}

func TestProcess_Notify(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
	}))
	defer srv.Close()

	queue := &fakeQueue{}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	d := testDescription()
	d.Notify = srv.URL

	if err := p.Process(context.Background(), d, &mq.Message{}); err != nil {
		t.Fatal(err)
	}

	select {
	case body := <-received:
		var posted job.Description
		if err := json.Unmarshal(body, &posted); err != nil {
			t.Fatalf("notify body: %v", err)
		}
		if posted.ID != "j-1" {
			t.Errorf("notify body id: got %q", posted.ID)
		}
	default:
		t.Fatal("notify callback was not invoked")
	}
}

func TestProcess_NotifyFailureDoesNotBlockAck(t *testing.T) {
	queue := &fakeQueue{}
	conv := &fakeConverter{files: []string{"0.png"}}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	d := testDescription()
	// Никто не слушает: callback упадёт, job при этом завершается успешно
	d.Notify = "http://127.0.0.1:1/notify"

	if err := p.Process(context.Background(), d, &mq.Message{}); err != nil {
		t.Fatalf("notify failure must not fail the job: %v", err)
	}
	if queue.deletes != 1 {
		t.Error("message must still be acknowledged")
	}
}

func TestProcess_ScratchCleanedUp(t *testing.T) {
	queue := &fakeQueue{}
	conv := &fakeConverter{files: []string{"0.png"}, root: t.TempDir()}
	p := newTestPipeline(t, queue, &fakeStorage{}, conv, &fakeQR{})

	if err := p.Process(context.Background(), testDescription(), &mq.Message{}); err != nil {
		t.Fatal(err)
	}

	// Scratch-каталог конвертации удалён после обработки
	left, err := filepath.Glob(filepath.Join(conv.root, "thumb-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("scratch dirs leaked: %v", left)
	}
}
