package syncer

import (
	"context"
	"sync"
	"time"
)

// Queue 为每个用户运行一个推送 worker。同一用户推送进行中时到达的提交
// 合并为一次后续推送，该推送读取其开始时的最新状态。
type Queue struct {
	run     func(ctx context.Context, userID string)
	timeout time.Duration

	mu      sync.Mutex
	idle    *sync.Cond
	running map[string]bool
	pending map[string]bool
	closed  bool
}

// NewQueue 构造队列，每次推送调用 run，并使用受 timeout 限制的独立 context；
// timeout 为 0 表示不限制。
func NewQueue(run func(ctx context.Context, userID string), timeout time.Duration) *Queue {
	q := &Queue{
		run:     run,
		timeout: timeout,
		running: make(map[string]bool),
		pending: make(map[string]bool),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit 为 userID 安排一次推送，队列关闭后返回 false
func (q *Queue) Submit(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.running[userID] {
		q.pending[userID] = true
		return true
	}
	q.running[userID] = true
	go q.work(userID)
	return true
}

func (q *Queue) work(userID string) {
	for {
		q.runOnce(userID)

		q.mu.Lock()
		if q.pending[userID] {
			delete(q.pending, userID)
			q.mu.Unlock()
			continue
		}
		delete(q.running, userID)
		if len(q.running) == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
		return
	}
}

func (q *Queue) runOnce(userID string) {
	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	q.run(ctx, userID)
}

// Flush 等待所有已排队的推送完成；等待期间新提交的推送也会被等到
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waitIdle()
}

// Close 拒绝后续提交，并等待正在运行的推送结束
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.waitIdle()
}

// waitIdle 需在持有 q.mu 时调用
func (q *Queue) waitIdle() {
	for len(q.running) > 0 {
		q.idle.Wait()
	}
}
