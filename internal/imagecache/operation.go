package imagecache

import "sync/atomic"

const (
	opPending int32 = iota
	opDelivered
	opCancelled
)

// Operation 表示一次异步查询。投递结果与 Cancel 通过同一次 CAS 竞争，二者只有一个会生效。
type Operation struct {
	state atomic.Int32
	done  chan struct{}
}

func newOperation() *Operation {
	return &Operation{done: make(chan struct{})}
}

// Cancel 取消查询；返回 true 表示取消成功，之后回调一定不会被调用。
func (op *Operation) Cancel() bool {
	if op.state.CompareAndSwap(opPending, opCancelled) {
		close(op.done)
		return true
	}
	return false
}

// Cancelled 报告查询是否已被取消。
func (op *Operation) Cancelled() bool {
	return op.state.Load() == opCancelled
}

// Done 在结果投递完成或查询被取消后关闭。
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// deliver 赢得 CAS 后才调用回调，回调返回后关闭 Done。
func (op *Operation) deliver(fn func()) bool {
	if !op.state.CompareAndSwap(opPending, opDelivered) {
		return false
	}
	defer close(op.done)
	if fn != nil {
		fn()
	}
	return true
}
