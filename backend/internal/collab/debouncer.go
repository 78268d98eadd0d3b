package collab

import (
	"context"
	"sync"
	"time"
)

// 待写入的房间内容
type PendingWrite struct {
	Body     string
	AltBody  string
	Revision uint64
}

type WriteFunc func(ctx context.Context, w PendingWrite) error

// Debouncer：单个房间的尾沿防抖写入
// - Notify 重置计时器，只保留最新内容
// - 同一时刻最多一个写入在跑，写入期间到期的计时器会在写完后立即补跑
// - 写失败时内容放回 pending（没有更新的内容时），由下一轮计时器重试
type Debouncer struct {
	quiet   time.Duration
	timeout time.Duration
	write   WriteFunc
	onDone  func(w PendingWrite, err error)

	mu       sync.Mutex
	pending  *PendingWrite
	timer    *time.Timer
	gen      uint64
	inflight bool
	rerun    bool
	closed   bool
	wg       sync.WaitGroup
}

func NewDebouncer(quiet, timeout time.Duration, write WriteFunc, onDone func(w PendingWrite, err error)) *Debouncer {
	if onDone == nil {
		onDone = func(PendingWrite, error) {}
	}
	return &Debouncer{quiet: quiet, timeout: timeout, write: write, onDone: onDone}
}

func (d *Debouncer) Notify(w PendingWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = &w
	d.armLocked()
}

// Flush 立即写入当前 pending，没有待写内容时返回 false
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	if d.closed || d.pending == nil {
		d.mu.Unlock()
		return false
	}
	d.disarmLocked()
	if d.inflight {
		d.rerun = true
		d.mu.Unlock()
		return true
	}
	w := d.takeLocked()
	d.mu.Unlock()
	go d.run(w)
	return true
}

// Pending 是否还有没落盘的内容
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil || d.inflight
}

// Close 停掉计时器，等在跑的写入结束，再同步写一次剩余内容
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.disarmLocked()
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	w := d.pending
	d.pending = nil
	d.mu.Unlock()
	if w == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.onDone(*w, d.write(ctx, *w))
}

func (d *Debouncer) armLocked() {
	d.disarmLocked()
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

// gen 自增后，已经触发但还没拿到锁的旧回调会直接返回
func (d *Debouncer) disarmLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) takeLocked() PendingWrite {
	w := *d.pending
	d.pending = nil
	d.inflight = true
	d.wg.Add(1)
	return w
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	if d.inflight {
		d.rerun = true
		d.mu.Unlock()
		return
	}
	w := d.takeLocked()
	d.mu.Unlock()
	d.run(w)
}

func (d *Debouncer) run(w PendingWrite) {
	defer d.wg.Done()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.write(ctx, w)
		cancel()

		d.mu.Lock()
		if err != nil && d.pending == nil {
			d.pending = &w
			if !d.closed && d.timer == nil {
				d.armLocked()
			}
		}
		var next *PendingWrite
		if d.rerun && !d.closed && d.pending != nil {
			next = d.pending
			d.pending = nil
			d.disarmLocked()
		}
		d.rerun = false
		if next == nil {
			d.inflight = false
		}
		d.mu.Unlock()

		d.onDone(w, err)
		if next == nil {
			return
		}
		w = *next
	}
}
