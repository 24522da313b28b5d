package download

import (
	"context"
	"sync/atomic"
	"time"
)

type handler struct {
	id       string
	progress ProgressFunc
	done     DoneFunc
	removed  atomic.Bool
}

// Task 是同一 URL 的一次共享下载。所有字段由 Coordinator.mu 保护，removed 标记除外。
type Task struct {
	url      string
	key      string
	opts     Options
	state    State
	handlers map[string]*handler
	order    []*handler // 保持 handler 的注册顺序，结果按此顺序投递

	ctx    context.Context
	cancel context.CancelFunc
	// abort 为 true 表示 CancelAll 要求任务以 ErrCancelled 结束。
	abort   bool
	seq     uint64
	created time.Time
}

func newTask(url, key string, opts Options) *Task {
	return &Task{
		url:      url,
		key:      key,
		opts:     opts,
		state:    StatePending,
		handlers: make(map[string]*handler),
		created:  time.Now(),
	}
}

func (t *Task) addHandler(h *handler) {
	t.handlers[h.id] = h
	t.order = append(t.order, h)
}

// removeHandler 删除 handler 并返回剩余数量；id 不存在时 ok 为 false。
func (t *Task) removeHandler(id string) (remaining int, ok bool) {
	h, found := t.handlers[id]
	if !found {
		return len(t.handlers), false
	}
	h.removed.Store(true)
	delete(t.handlers, id)
	for i, candidate := range t.order {
		if candidate == h {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return len(t.handlers), true
}

// takeHandlers 清空并返回全部 handler，保证每个 handler 只被投递一次。
func (t *Task) takeHandlers() []*handler {
	taken := t.order
	t.order = nil
	t.handlers = make(map[string]*handler)
	return taken
}

func (t *Task) snapshot() []*handler {
	return append([]*handler(nil), t.order...)
}

// TaskInfo 是诊断接口使用的任务快照。
type TaskInfo struct {
	URL      string    `json:"url"`
	State    string    `json:"state"`
	Handlers int       `json:"handlers"`
	Created  time.Time `json:"created"`
}
