package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lsp-framework/internal/handler"
	"lsp-framework/internal/lsperr"
	"lsp-framework/internal/workspace"
)

// recorder collects execution events from handlers across goroutines.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

type tagParams struct {
	Tag string `json:"tag"`
}

type documentParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Text string `json:"text"`
}

func newTestQueue(t *testing.T, handlers ...*handler.Handler) (*Queue, *workspace.Manager) {
	t.Helper()
	registry, err := handler.NewRegistry(handlers...)
	require.NoError(t, err)
	manager := workspace.NewManager(zap.NewNop(), map[string][]string{"go": {".go"}})
	q := New(zap.NewNop(), registry, manager, nil)
	t.Cleanup(func() {
		q.Shutdown()
		select {
		case <-q.Done():
		case <-time.After(5 * time.Second):
			t.Error("queue did not stop")
		}
	})
	return q, manager
}

func waitItem(t *testing.T, it *Item) (interface{}, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := it.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("item %s did not complete", it.Method())
	}
	return res, err
}

func rawTag(tag string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"tag":%q}`, tag))
}

func TestQueue_MutatingRequestsRunStrictlyInOrder(t *testing.T) {
	rec := &recorder{}
	mutate := handler.NewNotification(
		handler.Info{Method: "test/mutate", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) error {
			rec.add("start:" + p.Tag)
			time.Sleep(20 * time.Millisecond)
			rec.add("end:" + p.Tag)
			return nil
		})

	q, _ := newTestQueue(t, mutate)
	require.NoError(t, q.Start())

	a := q.Enqueue(context.Background(), "test/mutate", rawTag("a"))
	b := q.Enqueue(context.Background(), "test/mutate", rawTag("b"))

	_, err := waitItem(t, a)
	require.NoError(t, err)
	_, err = waitItem(t, b)
	require.NoError(t, err)

	assert.Equal(t, []string{"start:a", "end:a", "start:b", "end:b"}, rec.snapshot())
}

func TestQueue_LaterMutationObservesEarlierEffect(t *testing.T) {
	var state []string
	mutate := handler.NewNotification(
		handler.Info{Method: "test/append", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) error {
			state = append(state, p.Tag)
			return nil
		})
	check := handler.NewRequest(
		handler.Info{Method: "test/check", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) ([]string, error) {
			return append([]string(nil), state...), nil
		})

	q, _ := newTestQueue(t, mutate, check)
	require.NoError(t, q.Start())

	q.Enqueue(context.Background(), "test/append", rawTag("m1"))
	q.Enqueue(context.Background(), "test/append", rawTag("m2"))
	it := q.Enqueue(context.Background(), "test/check", rawTag("r"))

	res, err := waitItem(t, it)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, res)
}

func TestQueue_ReadResolvedAfterEarlierMutationExecuted(t *testing.T) {
	var mgr *workspace.Manager
	open := handler.NewNotification(
		handler.Info{Method: "test/open", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *documentParams) error {
			return mgr.StartTracking(rctx.URI, "go", 1, p.Text)
		})
	read := handler.NewRequest(
		handler.Info{Method: "test/read"},
		func(ctx context.Context, rctx *handler.Context, p *documentParams) (string, error) {
			if rctx.Document == nil {
				return "", errors.New("document was not resolved")
			}
			return rctx.Document.Text(), nil
		})

	q, manager := newTestQueue(t, open, read)
	mgr = manager
	require.NoError(t, q.Start())

	params := json.RawMessage(`{"textDocument":{"uri":"file:///src/main.go"},"text":"package main"}`)
	q.Enqueue(context.Background(), "test/open", params)
	it := q.Enqueue(context.Background(), "test/read", json.RawMessage(`{"textDocument":{"uri":"file:///src/main.go"}}`))

	res, err := waitItem(t, it)
	require.NoError(t, err)
	assert.Equal(t, "package main", res)
}

func TestQueue_ReadsExecuteConcurrently(t *testing.T) {
	arrived := make(chan string, 3)
	release := make(chan struct{})
	read := handler.NewRequest(
		handler.Info{Method: "test/read"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			arrived <- p.Tag
			select {
			case <-release:
				return "result:" + p.Tag, nil
			case <-time.After(3 * time.Second):
				return "", errors.New("never released, reads are not concurrent")
			}
		})

	q, _ := newTestQueue(t, read)
	require.NoError(t, q.Start())

	items := map[string]*Item{}
	for _, tag := range []string{"a", "b", "c"} {
		items[tag] = q.Enqueue(context.Background(), "test/read", rawTag(tag))
	}

	// All three must be inside their handlers at the same time.
	for i := 0; i < 3; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("reads did not overlap")
		}
	}
	close(release)

	for tag, it := range items {
		res, err := waitItem(t, it)
		require.NoError(t, err)
		assert.Equal(t, "result:"+tag, res)
	}
}

func TestQueue_LanguageSelectsHandler(t *testing.T) {
	goHandler := handler.NewRequest(
		handler.Info{Method: "test/which", Language: "go"},
		func(ctx context.Context, rctx *handler.Context, p *documentParams) (string, error) {
			return "go:" + rctx.Language, nil
		})
	defaultHandler := handler.NewRequest(
		handler.Info{Method: "test/which", Language: handler.LanguageDefault},
		func(ctx context.Context, rctx *handler.Context, p *documentParams) (string, error) {
			return "default:" + rctx.Language, nil
		})

	q, _ := newTestQueue(t, goHandler, defaultHandler)
	require.NoError(t, q.Start())

	it := q.Enqueue(context.Background(), "test/which", json.RawMessage(`{"textDocument":{"uri":"file:///src/main.go"}}`))
	res, err := waitItem(t, it)
	require.NoError(t, err)
	assert.Equal(t, "go:go", res)

	it = q.Enqueue(context.Background(), "test/which", json.RawMessage(`{"textDocument":{"uri":"file:///notes.txt"}}`))
	res, err = waitItem(t, it)
	require.NoError(t, err)
	assert.Equal(t, "default:default", res)
}

func TestQueue_ExecutionErrorStaysLocal(t *testing.T) {
	boom := errors.New("boom")
	flaky := handler.NewRequest(
		handler.Info{Method: "test/flaky"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			if p.Tag == "fail" {
				return "", boom
			}
			return "ok", nil
		})

	q, _ := newTestQueue(t, flaky)
	require.NoError(t, q.Start())

	bad := q.Enqueue(context.Background(), "test/flaky", rawTag("fail"))
	good := q.Enqueue(context.Background(), "test/flaky", rawTag("pass"))

	_, err := waitItem(t, bad)
	require.ErrorIs(t, err, boom)

	res, err := waitItem(t, good)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, StateAccepting, q.State())
}

func TestQueue_PanicIsContained(t *testing.T) {
	panicky := handler.NewRequest(
		handler.Info{Method: "test/panic", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			if p.Tag == "panic" {
				panic("handler bug")
			}
			return "survived", nil
		})

	q, _ := newTestQueue(t, panicky)
	require.NoError(t, q.Start())

	bad := q.Enqueue(context.Background(), "test/panic", rawTag("panic"))
	good := q.Enqueue(context.Background(), "test/panic", rawTag("calm"))

	_, err := waitItem(t, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	res, err := waitItem(t, good)
	require.NoError(t, err)
	assert.Equal(t, "survived", res)
}

func TestQueue_ResolutionFailureIsFatal(t *testing.T) {
	goOnly := handler.NewRequest(
		handler.Info{Method: "test/goOnly", Language: "go"},
		func(ctx context.Context, rctx *handler.Context, p *documentParams) (string, error) {
			return "ok", nil
		})
	other := handler.NewRequest(
		handler.Info{Method: "test/other"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	q, _ := newTestQueue(t, goOnly, other)
	require.NoError(t, q.Start())

	// No extension mapping for .txt, so the language resolves to the
	// default and the method has no default handler.
	failing := q.Enqueue(context.Background(), "test/goOnly", json.RawMessage(`{"textDocument":{"uri":"file:///readme.txt"}}`))
	behind := q.Enqueue(context.Background(), "test/other", rawTag("x"))

	_, err := waitItem(t, failing)
	require.Error(t, err)
	assert.True(t, lsperr.IsResolutionError(err))

	// Everything behind the failing item fails with the same error.
	_, errBehind := waitItem(t, behind)
	require.Error(t, errBehind)
	assert.Equal(t, err, errBehind)

	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop after fatal resolution error")
	}
	assert.Equal(t, StateStopped, q.State())

	late := q.Enqueue(context.Background(), "test/other", rawTag("late"))
	_, err = waitItem(t, late)
	require.ErrorIs(t, err, lsperr.ErrQueueNotAccepting)
}

func TestQueue_UnknownMethodIsLocal(t *testing.T) {
	ok := handler.NewRequest(
		handler.Info{Method: "test/known"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	q, _ := newTestQueue(t, ok)
	require.NoError(t, q.Start())

	unknown := q.Enqueue(context.Background(), "test/missing", rawTag("x"))
	_, err := waitItem(t, unknown)
	require.Error(t, err)
	assert.True(t, lsperr.IsMethodNotFoundError(err))

	known := q.Enqueue(context.Background(), "test/known", rawTag("y"))
	_, err = waitItem(t, known)
	require.NoError(t, err)
	assert.Equal(t, StateAccepting, q.State())
}

func TestQueue_CancelBeforeExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ran := false
	slow := handler.NewRequest(
		handler.Info{Method: "test/slow", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			if p.Tag == "second" {
				ran = true
				return "second ran", nil
			}
			close(started)
			<-release
			return "first", nil
		})

	q, _ := newTestQueue(t, slow)
	require.NoError(t, q.Start())

	first := q.Enqueue(context.Background(), "test/slow", rawTag("first"))
	second := q.Enqueue(context.Background(), "test/slow", rawTag("second"))

	<-started
	second.Cancel()
	close(release)

	_, err := waitItem(t, first)
	require.NoError(t, err)
	_, err = waitItem(t, second)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran, "cancelled item must never execute")
}

func TestQueue_CancelDuringExecution(t *testing.T) {
	entered := make(chan struct{})
	blocking := handler.NewRequest(
		handler.Info{Method: "test/block"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})

	q, _ := newTestQueue(t, blocking)
	require.NoError(t, q.Start())

	it := q.Enqueue(context.Background(), "test/block", rawTag("x"))
	<-entered
	it.Cancel()

	_, err := waitItem(t, it)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueue_CancelResolvesExactlyOnce(t *testing.T) {
	noop := handler.NewRequest(
		handler.Info{Method: "test/noop"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	q, _ := newTestQueue(t, noop)
	require.NoError(t, q.Start())

	it := q.Enqueue(context.Background(), "test/noop", rawTag("x"))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it.Cancel()
		}()
	}
	wg.Wait()

	res, err := it.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	// Repeated waits observe the same resolution.
	res2, err2 := it.Wait(context.Background())
	assert.Equal(t, res, res2)
	assert.Equal(t, err, err2)
}

func TestQueue_EnqueueBeforeStartIsParked(t *testing.T) {
	noop := handler.NewRequest(
		handler.Info{Method: "test/noop"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	q, _ := newTestQueue(t, noop)

	it := q.Enqueue(context.Background(), "test/noop", rawTag("early"))
	select {
	case <-it.Done():
		t.Fatal("parked item completed before Start")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Start())
	res, err := waitItem(t, it)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestQueue_ShutdownBeforeStartFailsParkedItems(t *testing.T) {
	noop := handler.NewRequest(
		handler.Info{Method: "test/noop"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	registry, err := handler.NewRegistry(noop)
	require.NoError(t, err)
	manager := workspace.NewManager(zap.NewNop(), nil)
	q := New(zap.NewNop(), registry, manager, nil)

	it := q.Enqueue(context.Background(), "test/noop", rawTag("x"))
	q.Shutdown()

	_, err = waitItem(t, it)
	require.ErrorIs(t, err, lsperr.ErrQueueShutDown)

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not report stop")
	}
	assert.Equal(t, StateStopped, q.State())
}

func TestQueue_ShutdownDrainsQueuedWork(t *testing.T) {
	rec := &recorder{}
	slow := handler.NewNotification(
		handler.Info{Method: "test/slow", Mutating: true},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) error {
			time.Sleep(10 * time.Millisecond)
			rec.add(p.Tag)
			return nil
		})

	q, _ := newTestQueue(t, slow)
	require.NoError(t, q.Start())

	items := []*Item{
		q.Enqueue(context.Background(), "test/slow", rawTag("one")),
		q.Enqueue(context.Background(), "test/slow", rawTag("two")),
		q.Enqueue(context.Background(), "test/slow", rawTag("three")),
	}
	q.Shutdown()

	for _, it := range items {
		_, err := waitItem(t, it)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"one", "two", "three"}, rec.snapshot())

	select {
	case <-q.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop after drain")
	}

	rejected := q.Enqueue(context.Background(), "test/slow", rawTag("late"))
	_, err := waitItem(t, rejected)
	require.ErrorIs(t, err, lsperr.ErrQueueNotAccepting)
}

func TestQueue_StartTwice(t *testing.T) {
	noop := handler.NewRequest(
		handler.Info{Method: "test/noop"},
		func(ctx context.Context, rctx *handler.Context, p *tagParams) (string, error) {
			return "ok", nil
		})

	q, _ := newTestQueue(t, noop)
	require.NoError(t, q.Start())
	require.ErrorIs(t, q.Start(), lsperr.ErrQueueAlreadyStarted)
}
