package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cbwheadon/thumbd/internal/mq"
)

// scriptedQueue отдаёт заранее заданные сообщения по одному,
// после чего блокируется до отмены контекста.
type scriptedQueue struct {
	fakeQueue

	scriptMu sync.Mutex
	script   []*mq.Message
}

func (q *scriptedQueue) Receive(ctx context.Context) (*mq.Message, error) {
	q.scriptMu.Lock()
	if len(q.script) > 0 {
		m := q.script[0]
		q.script = q.script[1:]
		q.scriptMu.Unlock()
		return m, nil
	}
	q.scriptMu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *scriptedQueue) counts() (deletes, deadLetters int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deletes, q.deadLetters
}

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoller_SurvivesPoisonMessage(t *testing.T) {
	queue := &scriptedQueue{script: []*mq.Message{
		// Нечитаемое тело: уходит в dead-letter, цикл продолжается
		{Handle: "h1", Body: []byte("!!! not a job !!!"), Attempt: 1},
		// Нормальный job обрабатывается следом
		{Handle: "h2", Body: []byte(`{"id":"j-2","original":"a.pdf","destination":"a_small"}`), Attempt: 1},
	}}

	storage := &fakeStorage{downloadDir: t.TempDir()}
	conv := &fakeConverter{files: []string{"0.png"}, root: t.TempDir()}
	pipeline := NewPipeline(testConfig(), storage, conv, &fakeQR{}, queue, nil)
	poller := NewPoller(testConfig(), queue, pipeline, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer poller.Stop()

	waitFor(t, func() bool {
		deletes, deadLetters := queue.counts()
		return deletes == 1 && deadLetters == 1
	})
}

func TestPoller_DeadLettersExhaustedMessage(t *testing.T) {
	// Attempt выше порога: сообщение уходит в dead-letter без обработки
	queue := &scriptedQueue{script: []*mq.Message{
		{Handle: "h1", Body: []byte(`{"original":"a.pdf","destination":"b"}`), Attempt: 6},
	}}

	conv := &fakeConverter{files: []string{"0.png"}, root: t.TempDir()}
	pipeline := NewPipeline(testConfig(), &fakeStorage{downloadDir: t.TempDir()}, conv, &fakeQR{}, queue, nil)
	poller := NewPoller(testConfig(), queue, pipeline, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer poller.Stop()

	waitFor(t, func() bool {
		_, deadLetters := queue.counts()
		return deadLetters == 1
	})

	if conv.calls != 0 {
		t.Error("exhausted message must not reach the pipeline")
	}
}

func TestPoller_StartStop(t *testing.T) {
	queue := &scriptedQueue{}
	conv := &fakeConverter{files: []string{"0.png"}, root: t.TempDir()}
	pipeline := NewPipeline(testConfig(), &fakeStorage{downloadDir: t.TempDir()}, conv, &fakeQR{}, queue, nil)
	poller := NewPoller(testConfig(), queue, pipeline, nil)

	if err := poller.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if poller.IsStopped() {
		t.Error("poller should be running")
	}

	done := make(chan struct{})
	go func() {
		poller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	if !poller.IsStopped() {
		t.Error("poller should report stopped")
	}
}
