package download

import "time"

// EventKind 是任务生命周期事件的类型。
type EventKind int

const (
	EventStarted EventKind = iota
	EventReceivedResponse
	EventStopped
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventReceivedResponse:
		return "received_response"
	case EventStopped:
		return "stopped"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event 在任务状态变化时广播给所有 Observer。每个运行过的任务以且仅以一个
// EventFinished 结束，State 为 succeeded/failed/cancelled，失败与取消时 Err 非空。
type Event struct {
	Kind     EventKind
	URL      string
	State    State
	Bytes    int64         // stopped/finished 时为已接收字节数
	Expected int64         // received_response 时为预期字节数
	Duration time.Duration // 自任务开始运行起的耗时
	Err      error
}

// Observer 接收生命周期事件。回调在 worker goroutine 上同步执行，实现需尽快返回。
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc 让普通函数满足 Observer。
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
