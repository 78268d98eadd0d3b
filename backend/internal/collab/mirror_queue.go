package collab

import (
	"context"
	"sync"
	"time"
)

type mirrorOp func(ctx context.Context)

// mirrorQueue：在线名单镜像的写入队列
// 同一个 key 只保留最后一次写入，所以积压量不超过房间会话数的两倍，不会丢成员变更
type mirrorQueue struct {
	timeout time.Duration

	mu     sync.Mutex
	order  []string
	ops    map[string]mirrorOp
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newMirrorQueue(timeout time.Duration) *mirrorQueue {
	q := &mirrorQueue{
		timeout: timeout,
		ops:     make(map[string]mirrorOp),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func memberKey(sessionID string) string { return "member:" + sessionID }
func cursorKey(sessionID string) string { return "cursor:" + sessionID }

// put 覆盖 key 上还没执行的写入，覆盖时保持原来的排队位置
func (q *mirrorQueue) put(key string, op mirrorOp) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, ok := q.ops[key]; !ok {
		q.order = append(q.order, key)
	}
	q.ops[key] = op
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drop 撤掉 key 上还没执行的写入
func (q *mirrorQueue) drop(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.ops, key)
}

func (q *mirrorQueue) backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// close 执行完已经排队的写入再返回
func (q *mirrorQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *mirrorQueue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			op, ok := q.next()
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
			op(ctx)
			cancel()
		}
		q.mu.Lock()
		finished := q.closed && len(q.ops) == 0
		q.mu.Unlock()
		if finished {
			return
		}
	}
}

func (q *mirrorQueue) next() (mirrorOp, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		key := q.order[0]
		q.order = q.order[1:]
		// 被 drop 掉的 key 在 order 里还留着，跳过
		if op, ok := q.ops[key]; ok {
			delete(q.ops, key)
			return op, true
		}
	}
	return nil, false
}
