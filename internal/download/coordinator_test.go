package download

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imagehub/internal/imaging"
)

const waitTimeout = 5 * time.Second

func pngBytes(t *testing.T) []byte {
	t.Helper()
	data, err := imaging.NewStdCodec().Encode(imaging.New(image.NewRGBA(image.Rect(0, 0, 4, 4)), imaging.FormatPNG))
	require.NoError(t, err)
	return data
}

// fakeFetcher serves fixed bodies and can hold every fetch until released.
type fakeFetcher struct {
	body    []byte
	err     error
	gate    chan struct{}
	started chan string

	mu      sync.Mutex
	calls   map[string]int
	order   []string
	headers []http.Header
	ctxErrs []error
	active  int
	peak    int
}

func newFakeFetcher(body []byte) *fakeFetcher {
	return &fakeFetcher{body: body, calls: make(map[string]int), started: make(chan string, 64)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	f.order = append(f.order, req.URL)
	f.headers = append(f.headers, req.Header)
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- req.URL
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.ctxErrs = append(f.ctxErrs, ctx.Err())
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Body: io.NopCloser(bytes.NewReader(f.body)), ExpectedSize: int64(len(f.body))}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) fetchOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func waitStarted(t *testing.T, f *fakeFetcher) string {
	t.Helper()
	select {
	case url := <-f.started:
		return url
	case <-time.After(waitTimeout):
		t.Fatal("fetch did not start")
		return ""
	}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("no result delivered")
		return Result{}
	}
}

func newTestCoordinator(t *testing.T, cfg Config, fetcher Fetcher, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(cfg, fetcher, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSubscribeDeduplicates(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	first, second := make(chan Result, 1), make(chan Result, 1)
	_, err := c.Subscribe("https://img/a.png", Options{}, nil, func(r Result) { first <- r })
	require.NoError(t, err)
	waitStarted(t, fetcher)
	_, err = c.Subscribe("https://img/a.png", Options{}, nil, func(r Result) { second <- r })
	require.NoError(t, err)
	assert.Equal(t, 1, c.CurrentDownloadCount())

	close(fetcher.gate)
	r1, r2 := waitResult(t, first), waitResult(t, second)
	require.NoError(t, r1.Err)
	require.NoError(t, r2.Err)
	assert.Same(t, r1.Image, r2.Image)
	assert.Equal(t, 1, fetcher.callCount("https://img/a.png"))

	require.Eventually(t, func() bool { return c.CurrentDownloadCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestUnsubscribeOneHandlerKeepsOthers(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	var cancelledCalled atomic.Bool
	kept := make(chan Result, 1)
	token, err := c.Subscribe("u", Options{}, func(int64, int64, string) { cancelledCalled.Store(true) }, func(Result) { cancelledCalled.Store(true) })
	require.NoError(t, err)
	_, err = c.Subscribe("u", Options{}, nil, func(r Result) { kept <- r })
	require.NoError(t, err)
	waitStarted(t, fetcher)

	assert.True(t, c.Unsubscribe(token))
	assert.False(t, c.Unsubscribe(token), "second unsubscribe is a no-op")
	state, ok := c.State("u")
	require.True(t, ok)
	assert.Equal(t, StateRunning, state)

	close(fetcher.gate)
	r := waitResult(t, kept)
	assert.NoError(t, r.Err)
	assert.NotNil(t, r.Image)
	assert.False(t, cancelledCalled.Load())
}

func TestLastUnsubscribeCancelsFetch(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	stopped := make(chan Event, 1)
	observer := ObserverFunc(func(e Event) {
		if e.Kind == EventStopped {
			stopped <- e
		}
	})
	c := newTestCoordinator(t, DefaultConfig(), fetcher, WithObservers(observer))

	var called atomic.Bool
	token, err := c.Subscribe("u", Options{}, nil, func(Result) { called.Store(true) })
	require.NoError(t, err)
	waitStarted(t, fetcher)

	require.True(t, c.Unsubscribe(token))
	_, ok := c.State("u")
	assert.False(t, ok, "cancelled task leaves the table immediately")

	select {
	case e := <-stopped:
		assert.ErrorIs(t, e.Err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("fetch was not aborted")
	}
	c.Close()
	assert.False(t, called.Load())
}

func TestUnsubscribePendingTaskNeverFetches(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	c := newTestCoordinator(t, DefaultConfig(), fetcher)
	c.Suspend()

	token, err := c.Subscribe("u", Options{}, nil, func(Result) { t.Error("unexpected delivery") })
	require.NoError(t, err)
	require.True(t, c.Unsubscribe(token))
	assert.Equal(t, 0, c.Stats().Pending)

	c.Resume()
	c.Close()
	assert.Equal(t, 0, fetcher.callCount("u"))
}

func TestDecodeFailure(t *testing.T) {
	fetcher := newFakeFetcher([]byte("definitely not an image"))
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	r, err := c.Download(context.Background(), "u", Options{})
	assert.ErrorIs(t, err, imaging.ErrDecodeFailed)
	assert.ErrorIs(t, r.Err, imaging.ErrDecodeFailed)
	assert.Nil(t, r.Image)
}

func TestFetchFailure(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("connection reset")
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	_, err := c.Download(context.Background(), "u", Options{})
	require.ErrorIs(t, err, ErrFetchFailed)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "u", fetchErr.URL)

	fetcher.err = &FetchError{URL: "u", StatusCode: http.StatusNotFound}
	_, err = c.Download(context.Background(), "u", Options{})
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestTimeout(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	_, err := c.Download(context.Background(), "slow", Options{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutionOrder(t *testing.T) {
	cases := []struct {
		name  string
		order ExecutionOrder
		subs  []struct {
			url      string
			priority Priority
		}
		want []string
	}{
		{
			name:  "fifo",
			order: FIFO,
			subs: []struct {
				url      string
				priority Priority
			}{{"a", PriorityNormal}, {"b", PriorityNormal}, {"c", PriorityNormal}},
			want: []string{"a", "b", "c"},
		},
		{
			name:  "lifo",
			order: LIFO,
			subs: []struct {
				url      string
				priority Priority
			}{{"a", PriorityNormal}, {"b", PriorityNormal}, {"c", PriorityNormal}},
			want: []string{"c", "b", "a"},
		},
		{
			name:  "fifo high priority jumps the queue",
			order: FIFO,
			subs: []struct {
				url      string
				priority Priority
			}{{"a", PriorityNormal}, {"b", PriorityNormal}, {"h", PriorityHigh}},
			want: []string{"h", "a", "b"},
		},
		{
			name:  "lifo low priority goes last",
			order: LIFO,
			subs: []struct {
				url      string
				priority Priority
			}{{"l", PriorityLow}, {"a", PriorityNormal}, {"b", PriorityNormal}},
			want: []string{"b", "a", "l"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newFakeFetcher(pngBytes(t))
			cfg := DefaultConfig()
			cfg.MaxConcurrentDownloads = 1
			cfg.ExecutionOrder = tc.order
			c := newTestCoordinator(t, cfg, fetcher)
			c.Suspend()

			var wg sync.WaitGroup
			for _, sub := range tc.subs {
				wg.Add(1)
				_, err := c.Subscribe(sub.url, Options{Priority: sub.priority}, nil, func(Result) { wg.Done() })
				require.NoError(t, err)
			}
			assert.Equal(t, len(tc.subs), c.Stats().Pending)
			c.Resume()
			wg.Wait()
			assert.Equal(t, tc.want, fetcher.fetchOrder())
		})
	}
}

func TestSetExecutionOrderReplacesQueuedTasks(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	cfg := DefaultConfig()
	cfg.MaxConcurrentDownloads = 1
	cfg.ExecutionOrder = FIFO
	c := newTestCoordinator(t, cfg, fetcher)
	c.Suspend()

	var wg sync.WaitGroup
	for _, sub := range []struct {
		url      string
		priority Priority
	}{{"l", PriorityLow}, {"a", PriorityNormal}, {"h", PriorityHigh}} {
		wg.Add(1)
		_, err := c.Subscribe(sub.url, Options{Priority: sub.priority}, nil, func(Result) { wg.Done() })
		require.NoError(t, err)
	}

	c.SetExecutionOrder(LIFO)
	assert.Equal(t, "lifo", c.Stats().Order)
	c.Resume()
	wg.Wait()
	assert.Equal(t, []string{"h", "a", "l"}, fetcher.fetchOrder())
}

func TestSuspendKeepsPendingTasks(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	c := newTestCoordinator(t, DefaultConfig(), fetcher)
	c.Suspend()

	done := make(chan Result, 1)
	_, err := c.Subscribe("u", Options{}, nil, func(r Result) { done <- r })
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fetcher.callCount("u"))
	stats := c.Stats()
	assert.True(t, stats.Suspended)
	assert.Equal(t, 1, stats.Pending)

	c.Resume()
	assert.NoError(t, waitResult(t, done).Err)
}

func TestMaxConcurrency(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	cfg := DefaultConfig()
	cfg.MaxConcurrentDownloads = 2
	c := newTestCoordinator(t, cfg, fetcher)

	var wg sync.WaitGroup
	for _, url := range []string{"1", "2", "3", "4", "5"} {
		wg.Add(1)
		_, err := c.Subscribe(url, Options{}, nil, func(Result) { wg.Done() })
		require.NoError(t, err)
	}
	waitStarted(t, fetcher)
	waitStarted(t, fetcher)
	stats := c.Stats()
	assert.Equal(t, 2, stats.Running)
	assert.Equal(t, 3, stats.Pending)

	c.SetMaxConcurrency(3)
	waitStarted(t, fetcher)
	close(fetcher.gate)
	wg.Wait()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.LessOrEqual(t, fetcher.peak, 3)
}

func TestProgressPrecedesCompletion(t *testing.T) {
	body := pngBytes(t)
	body = append(body, bytes.Repeat([]byte{0}, 3*readChunkSize)...)
	fetcher := newFakeFetcher(body)
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	var mu sync.Mutex
	var events []string
	var lastReceived int64
	done := make(chan Result, 1)
	_, err := c.Subscribe("u", Options{}, func(received, expected int64, url string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, "progress")
		lastReceived = received
		assert.Equal(t, int64(len(body)), expected)
		assert.Equal(t, "u", url)
	}, func(r Result) {
		mu.Lock()
		events = append(events, "done")
		mu.Unlock()
		done <- r
	})
	require.NoError(t, err)

	r := waitResult(t, done)
	require.NoError(t, r.Err)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "done", events[len(events)-1])
	for _, e := range events[:len(events)-1] {
		assert.Equal(t, "progress", e)
	}
	assert.Equal(t, int64(len(body)), lastReceived)
}

func TestCancelAll(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	cfg := DefaultConfig()
	cfg.MaxConcurrentDownloads = 1
	c := newTestCoordinator(t, cfg, fetcher)

	running, pending := make(chan Result, 1), make(chan Result, 1)
	_, err := c.Subscribe("running", Options{}, nil, func(r Result) { running <- r })
	require.NoError(t, err)
	waitStarted(t, fetcher)
	_, err = c.Subscribe("pending", Options{}, nil, func(r Result) { pending <- r })
	require.NoError(t, err)

	c.CancelAll()
	assert.ErrorIs(t, waitResult(t, pending).Err, ErrCancelled)
	assert.ErrorIs(t, waitResult(t, running).Err, ErrCancelled)
	require.Eventually(t, func() bool { return c.CurrentDownloadCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestCancelAllLateSubscriberStartsFreshFetch(t *testing.T) {
	body := pngBytes(t)
	var calls atomic.Int32
	aborted := make(chan struct{})
	release := make(chan struct{})
	// 第一次抓取在 ctx 取消后迟迟不返回，任务在此期间仍处于运行中。
	fetcher := FetcherFunc(func(ctx context.Context, req Request) (*Response, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			close(aborted)
			<-release
			return nil, ctx.Err()
		}
		return &Response{Body: io.NopCloser(bytes.NewReader(body)), ExpectedSize: int64(len(body))}, nil
	})
	c := newTestCoordinator(t, DefaultConfig(), fetcher)
	t.Cleanup(sync.OnceFunc(func() { close(release) }))

	first := make(chan Result, 1)
	_, err := c.Subscribe("u", Options{}, nil, func(r Result) { first <- r })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitTimeout, 5*time.Millisecond)

	c.CancelAll()
	select {
	case <-aborted:
	case <-time.After(waitTimeout):
		t.Fatal("running fetch was not aborted")
	}

	late := make(chan Result, 1)
	_, err = c.Subscribe("u", Options{}, nil, func(r Result) { late <- r })
	require.NoError(t, err)
	r := waitResult(t, late)
	require.NoError(t, r.Err)
	assert.NotNil(t, r.Image)
	assert.Equal(t, int32(2), calls.Load())

	release <- struct{}{}
	assert.ErrorIs(t, waitResult(t, first).Err, ErrCancelled)
}

func TestDownloadContextCancelled(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	c := newTestCoordinator(t, DefaultConfig(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()
	_, err := c.Download(ctx, "u", Options{})
	assert.ErrorIs(t, err, ErrCancelled)
}

type recordingSink struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
}

func (s *recordingSink) Store(key string, _ *imaging.Image, data []byte, toDisk bool) <-chan error {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.data = append(s.data, data)
	s.mu.Unlock()
	ch := make(chan error)
	close(ch)
	return ch
}

func TestSinkReceivesCacheKey(t *testing.T) {
	body := pngBytes(t)
	fetcher := newFakeFetcher(body)
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.CacheKeyFunc = func(url string) string { return "key:" + url }
	c := newTestCoordinator(t, cfg, fetcher, WithSink(sink))

	r, err := c.Download(context.Background(), "https://img/x.png", Options{})
	require.NoError(t, err)
	assert.Equal(t, "key:https://img/x.png", r.Key)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"key:https://img/x.png"}, sink.keys)
	assert.Equal(t, body, sink.data[0])
}

func TestRequestHeaders(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	cfg := DefaultConfig()
	cfg.Header = http.Header{"User-Agent": {"imagehub-test"}, "Accept": {"image/*"}}
	cfg.Username = "user"
	cfg.Password = "pass"
	cfg.HeadersFilter = func(url string, header http.Header) http.Header {
		header.Set("X-Filtered", url)
		return header
	}
	c := newTestCoordinator(t, cfg, fetcher)

	_, err := c.Download(context.Background(), "u", Options{Header: http.Header{"Accept": {"image/webp"}}})
	require.NoError(t, err)

	fetcher.mu.Lock()
	header := fetcher.headers[0]
	fetcher.mu.Unlock()
	assert.Equal(t, "imagehub-test", header.Get("User-Agent"))
	assert.Equal(t, []string{"image/webp"}, header.Values("Accept"))
	assert.Equal(t, "Basic dXNlcjpwYXNz", header.Get("Authorization"))
	assert.Equal(t, "u", header.Get("X-Filtered"))
	assert.Empty(t, cfg.Header.Get("Authorization"), "defaults must not be mutated")
}

func TestObserverEvents(t *testing.T) {
	fetcher := newFakeFetcher(pngBytes(t))
	var mu sync.Mutex
	var kinds []EventKind
	observer := ObserverFunc(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	c := newTestCoordinator(t, DefaultConfig(), fetcher, WithObservers(observer))

	_, err := c.Download(context.Background(), "u", Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 4
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventStarted, EventReceivedResponse, EventStopped, EventFinished}, kinds)
}

func TestObserverFinishedOnFailure(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("connection reset")
	finished := make(chan Event, 1)
	observer := ObserverFunc(func(e Event) {
		if e.Kind == EventFinished {
			finished <- e
		}
	})
	c := newTestCoordinator(t, DefaultConfig(), fetcher, WithObservers(observer))

	_, err := c.Download(context.Background(), "u", Options{})
	require.ErrorIs(t, err, ErrFetchFailed)

	select {
	case e := <-finished:
		assert.Equal(t, StateFailed, e.State)
		assert.ErrorIs(t, e.Err, ErrFetchFailed)
		assert.Zero(t, e.Bytes)
	case <-time.After(waitTimeout):
		t.Fatal("failed task did not emit finished")
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newTestCoordinator(t, DefaultConfig(), newFakeFetcher(nil))
	_, err := c.Subscribe("", Options{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidURL)

	c.Close()
	_, err = c.Subscribe("u", Options{}, nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = New(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestParseExecutionOrder(t *testing.T) {
	order, err := ParseExecutionOrder("LIFO")
	require.NoError(t, err)
	assert.Equal(t, LIFO, order)
	order, err = ParseExecutionOrder("")
	require.NoError(t, err)
	assert.Equal(t, FIFO, order)
	_, err = ParseExecutionOrder("random")
	assert.Error(t, err)
}
