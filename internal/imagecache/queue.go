package imagecache

import "sync"

// ioQueue 串行执行磁盘任务，调用方提交后立即返回。
type ioQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func()
	closed bool
	done   chan struct{}
}

func newIOQueue() *ioQueue {
	q := &ioQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

// submit 追加任务；队列关闭后返回 false 且不会执行。
func (q *ioQueue) submit(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return true
}

// close 拒绝新任务并等待已排队的任务全部执行完毕。
func (q *ioQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *ioQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
