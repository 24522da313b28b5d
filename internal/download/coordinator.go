package download

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/imaging"
)

const readChunkSize = 32 * 1024

// Option 调整 Coordinator 的协作组件。
type Option func(*Coordinator)

// WithCodec 替换默认的标准库解码器。
func WithCodec(codec imaging.Codec) Option {
	return func(c *Coordinator) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithSink 设置下载成功后写入的缓存。
func WithSink(sink Sink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithObservers 注册生命周期事件观察者。
func WithObservers(observers ...Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, observers...)
	}
}

// WithLogger 注入日志记录器。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Coordinator 对下载请求去重并在有界并发下调度。
type Coordinator struct {
	cfg       Config
	fetcher   Fetcher
	codec     imaging.Codec
	sink      Sink
	observers []Observer
	logger    logrus.FieldLogger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	workers    sync.WaitGroup

	mu            sync.Mutex
	tasks         map[string]*Task
	queue         []*Task // 等待中的任务，出队端由 order 决定
	running       int
	maxConcurrent int
	order         ExecutionOrder
	seq           uint64 // 任务入队序号，SetExecutionOrder 据此重排
	suspended     bool
	closed        bool
}

// New 构建 Coordinator；fetcher 必须非空。
func New(cfg Config, fetcher Fetcher, opts ...Option) (*Coordinator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:           cfg,
		fetcher:       fetcher,
		codec:         imaging.NewStdCodec(),
		logger:        discard,
		baseCtx:       ctx,
		baseCancel:    cancel,
		tasks:         make(map[string]*Task),
		maxConcurrent: cfg.MaxConcurrentDownloads,
		order:         cfg.ExecutionOrder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Subscribe 为 url 注册一个 handler。已有等待或运行中的任务时直接复用，不会发起新的抓取。
func (c *Coordinator) Subscribe(url string, opts Options, progress ProgressFunc, done DoneFunc) (Token, error) {
	if url == "" {
		return Token{}, ErrInvalidURL
	}
	h := &handler{id: uuid.NewString(), progress: progress, done: done}
	token := Token{URL: url, ID: h.id}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Token{}, ErrClosed
	}
	if task, ok := c.tasks[url]; ok {
		task.addHandler(h)
		c.logger.WithFields(logrus.Fields{
			"action":   "download_attach",
			"url":      url,
			"handlers": len(task.handlers),
		}).Debug("download_attach")
		return token, nil
	}

	task := newTask(url, c.cacheKey(url), opts)
	c.seq++
	task.seq = c.seq
	task.addHandler(h)
	c.tasks[url] = task
	c.enqueueLocked(task)
	c.dispatchLocked()
	return token, nil
}

// Unsubscribe 移除 token 对应的 handler，之后不会再投递完成回调。
// 若任务因此失去所有 handler 且尚未结束，任务转为 cancelled 并中止抓取。
// 进度回调在锁外执行：与 Unsubscribe 并发时，已开始的那一次进度回调仍可能在
// Unsubscribe 返回后完成，之后不会再有新的进度回调。
// CancelAll 之后仍在运行的任务不再可退订，其 handler 会收到 ErrCancelled。
func (c *Coordinator) Unsubscribe(token Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks[token.URL]
	if !ok {
		return false
	}
	remaining, removed := task.removeHandler(token.ID)
	if !removed {
		return false
	}
	if remaining == 0 && !task.state.Terminal() {
		c.cancelTaskLocked(task)
	}
	return true
}

// Download 是 Subscribe 的阻塞版本；ctx 结束时退订并返回 ErrCancelled。
func (c *Coordinator) Download(ctx context.Context, url string, opts Options) (Result, error) {
	resultCh := make(chan Result, 1)
	token, err := c.Subscribe(url, opts, nil, func(r Result) { resultCh <- r })
	if err != nil {
		return Result{URL: url, Err: err}, err
	}

	select {
	case r := <-resultCh:
		return r, r.Err
	case <-ctx.Done():
		if c.Unsubscribe(token) {
			err := fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			return Result{URL: url, Err: err}, err
		}
		r := <-resultCh
		return r, r.Err
	}
}

// SetMaxConcurrency 调整并发上限（最小为 1），调高时立即派发等待中的任务。
func (c *Coordinator) SetMaxConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxConcurrent = n
	c.dispatchLocked()
}

// SetExecutionOrder 调整等待队列的出队顺序。已排队任务按入队先后在新顺序下
// 重新放置，优先级的含义与新入队的任务一致。
func (c *Coordinator) SetExecutionOrder(order ExecutionOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.order == order {
		return
	}
	c.order = order

	queued := c.queue
	c.queue = make([]*Task, 0, len(queued))
	sort.Slice(queued, func(i, j int) bool { return queued[i].seq < queued[j].seq })
	for _, task := range queued {
		c.enqueueLocked(task)
	}
}

// Suspend 暂停派发新任务；运行中的任务继续执行，等待中的任务保留。
func (c *Coordinator) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
}

// Resume 恢复派发。
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	c.dispatchLocked()
}

// CancelAll 取消所有等待与运行中的任务，仍注册的 handler 收到 ErrCancelled。
func (c *Coordinator) CancelAll() {
	var deliveries []func()

	c.mu.Lock()
	for _, task := range c.queue {
		task.state = StateCancelled
		delete(c.tasks, task.url)
		result := Result{URL: task.url, Key: task.key, Err: ErrCancelled}
		for _, h := range task.takeHandlers() {
			deliveries = append(deliveries, deliverFunc(h, result))
		}
	}
	c.queue = nil
	for url, task := range c.tasks {
		if task.state == StateRunning {
			task.abort = true
			task.cancel()
			// 之后的订阅者会得到新任务，而不是挂到已中止的任务上。
			delete(c.tasks, url)
		}
	}
	c.mu.Unlock()

	for _, deliver := range deliveries {
		deliver()
	}
}

// Close 取消全部任务、拒绝新的订阅并等待 worker 退出。
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.CancelAll()
	c.workers.Wait()
	c.baseCancel()
}

// CurrentDownloadCount 返回等待与运行中的任务总数。
func (c *Coordinator) CurrentDownloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Stats 返回调度器快照。
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending:       len(c.queue),
		Running:       c.running,
		MaxConcurrent: c.maxConcurrent,
		Order:         c.order.String(),
		Suspended:     c.suspended,
	}
}

// Tasks 返回当前任务列表，按创建时间排序。
func (c *Coordinator) Tasks() []TaskInfo {
	c.mu.Lock()
	infos := make([]TaskInfo, 0, len(c.tasks))
	for _, task := range c.tasks {
		infos = append(infos, TaskInfo{
			URL:      task.url,
			State:    task.state.String(),
			Handlers: len(task.handlers),
			Created:  task.created,
		})
	}
	c.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Created.Before(infos[j].Created)
	})
	return infos
}

// State 返回 url 当前任务的状态；没有任务时 ok 为 false。
func (c *Coordinator) State(url string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[url]
	if !ok {
		return 0, false
	}
	return task.state, true
}

// enqueueLocked 按优先级放入队列：FIFO 从队首出队，高优先级插到队首；
// LIFO 从队尾出队，低优先级插到队首。
func (c *Coordinator) enqueueLocked(task *Task) {
	front := false
	switch c.order {
	case FIFO:
		front = task.opts.Priority == PriorityHigh
	case LIFO:
		front = task.opts.Priority == PriorityLow
	}
	if front {
		c.queue = append([]*Task{task}, c.queue...)
		return
	}
	c.queue = append(c.queue, task)
}

func (c *Coordinator) dequeueLocked() *Task {
	if len(c.queue) == 0 {
		return nil
	}
	var task *Task
	if c.order == LIFO {
		last := len(c.queue) - 1
		task = c.queue[last]
		c.queue[last] = nil
		c.queue = c.queue[:last]
	} else {
		task = c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	return task
}

func (c *Coordinator) removeQueuedLocked(task *Task) {
	for i, queued := range c.queue {
		if queued == task {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) dispatchLocked() {
	for !c.suspended && c.running < c.maxConcurrent {
		task := c.dequeueLocked()
		if task == nil {
			return
		}
		timeout := task.opts.Timeout
		if timeout <= 0 {
			timeout = c.cfg.Timeout
		}
		task.ctx, task.cancel = context.WithTimeout(c.baseCtx, timeout)
		task.state = StateRunning
		c.running++
		c.workers.Add(1)
		go c.run(task)
	}
}

func (c *Coordinator) cancelTaskLocked(task *Task) {
	prev := task.state
	task.state = StateCancelled
	if c.tasks[task.url] == task {
		delete(c.tasks, task.url)
	}
	switch prev {
	case StatePending:
		c.removeQueuedLocked(task)
	case StateRunning:
		task.cancel()
	}
	c.logger.WithFields(logrus.Fields{
		"action": "download_cancelled",
		"url":    task.url,
		"state":  prev.String(),
	}).Debug("download_cancelled")
}

func (c *Coordinator) run(task *Task) {
	defer c.workers.Done()
	started := time.Now()
	c.emit(Event{Kind: EventStarted, URL: task.url, State: StateRunning})

	data, err := c.fetch(task, started)
	c.emit(Event{
		Kind:     EventStopped,
		URL:      task.url,
		State:    StateRunning,
		Bytes:    int64(len(data)),
		Duration: time.Since(started),
		Err:      err,
	})

	result := Result{URL: task.url, Key: task.key}
	if err != nil {
		result.Err = err
	} else {
		img, decodeErr := c.codec.Decode(data)
		if decodeErr != nil {
			result.Err = decodeErr
		} else {
			result.Image = img
			result.Data = data
			c.store(task, img, data)
		}
	}

	state, handlers := c.complete(task, &result)
	finished := Event{
		Kind:     EventFinished,
		URL:      task.url,
		State:    state,
		Bytes:    int64(len(result.Data)),
		Duration: time.Since(started),
		Err:      result.Err,
	}
	if state == StateCancelled && finished.Err == nil {
		finished.Err = ErrCancelled
	}
	c.emit(finished)
	for _, h := range handlers {
		deliverFunc(h, result)()
	}
}

// fetch 执行抓取并逐块读取响应体，每块之后向仍在订阅的 handler 报告进度。
func (c *Coordinator) fetch(task *Task, started time.Time) ([]byte, error) {
	ctx := task.ctx
	resp, err := c.fetcher.Fetch(ctx, Request{URL: task.url, Header: c.requestHeader(task)})
	if err != nil {
		return nil, c.wrapFetchError(task.url, err)
	}
	defer resp.Body.Close()

	expected := resp.ExpectedSize
	if expected <= 0 {
		expected = -1
	}
	c.emit(Event{
		Kind:     EventReceivedResponse,
		URL:      task.url,
		State:    StateRunning,
		Expected: expected,
		Duration: time.Since(started),
	})
	c.reportProgress(task, 0, expected)

	var buf bytes.Buffer
	if expected > 0 {
		buf.Grow(int(expected))
	}
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, c.wrapFetchError(task.url, err)
		}
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			c.reportProgress(task, int64(buf.Len()), expected)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return buf.Bytes(), nil
			}
			return nil, c.wrapFetchError(task.url, readErr)
		}
	}
}

func (c *Coordinator) reportProgress(task *Task, received, expected int64) {
	c.mu.Lock()
	handlers := task.snapshot()
	c.mu.Unlock()

	for _, h := range handlers {
		if h.progress == nil || h.removed.Load() {
			continue
		}
		h.progress(received, expected, task.url)
	}
}

// complete 在锁内确定终态并取走 handler，然后释放 worker 槽位派发下一个任务。
func (c *Coordinator) complete(task *Task, result *Result) (State, []*handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task.cancel()
	c.running--
	defer c.dispatchLocked()

	if c.tasks[task.url] == task {
		delete(c.tasks, task.url)
	}

	switch {
	case task.state == StateCancelled:
		// 最后一个 handler 已退订，结果被静默丢弃。
		return StateCancelled, nil
	case task.abort:
		task.state = StateCancelled
		result.Image, result.Data = nil, nil
		result.Err = ErrCancelled
	case result.Err != nil:
		task.state = StateFailed
	default:
		task.state = StateSucceeded
	}
	return task.state, task.takeHandlers()
}

func (c *Coordinator) store(task *Task, img *imaging.Image, data []byte) {
	if c.sink == nil || task.key == "" {
		return
	}
	errCh := c.sink.Store(task.key, img, data, true)
	go func() {
		if err := <-errCh; err != nil {
			c.logger.WithFields(logrus.Fields{
				"action": "download_store_failed",
				"url":    task.url,
				"key":    task.key,
			}).WithError(err).Warn("download_store_failed")
		}
	}()
}

func (c *Coordinator) requestHeader(task *Task) http.Header {
	header := c.cfg.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	for k, values := range task.opts.Header {
		header.Del(k)
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if c.cfg.Username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		header.Set("Authorization", "Basic "+creds)
	}
	if c.cfg.HeadersFilter != nil {
		if filtered := c.cfg.HeadersFilter(task.url, header); filtered != nil {
			header = filtered
		}
	}
	return header
}

func (c *Coordinator) wrapFetchError(url string, err error) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &FetchError{URL: url, Err: err}
}

func (c *Coordinator) cacheKey(url string) string {
	if c.cfg.CacheKeyFunc != nil {
		return c.cfg.CacheKeyFunc(url)
	}
	return url
}

func (c *Coordinator) emit(event Event) {
	for _, observer := range c.observers {
		observer.OnEvent(event)
	}
}

func deliverFunc(h *handler, result Result) func() {
	return func() {
		if h.done != nil {
			h.done(result)
		}
	}
}
