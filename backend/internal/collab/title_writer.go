package collab

import (
	"context"
	"log"
	"sync"
	"time"
)

// titleWriter：房间标题落盘
// 只保留最新的标题，写失败时放回去隔 retry 再试，期间来了新标题就直接写新的
type titleWriter struct {
	docID   string
	save    func(ctx context.Context, title string) error
	timeout time.Duration
	retry   time.Duration

	mu      sync.Mutex
	pending *string
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newTitleWriter(docID string, save func(ctx context.Context, title string) error, timeout, retry time.Duration) *titleWriter {
	w := &titleWriter{
		docID:   docID,
		save:    save,
		timeout: timeout,
		retry:   retry,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *titleWriter) Set(title string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = &title
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close 等当前写入结束，再同步写一次还没落盘的标题
func (w *titleWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stop)
	<-w.done

	if title, ok := w.take(); ok {
		if err := w.write(title); err != nil {
			log.Printf("final title write failed, title lost doc=%s: %v", w.docID, err)
		}
	}
}

func (w *titleWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
		case <-w.stop:
			return
		}
		for {
			title, ok := w.take()
			if !ok {
				break
			}
			err := w.write(title)
			if err == nil {
				continue
			}
			w.putBack(title)
			log.Printf("save title failed, retry in %s doc=%s: %v", w.retry, w.docID, err)
			select {
			case <-time.After(w.retry):
			case <-w.wake:
			case <-w.stop:
				return
			}
		}
	}
}

func (w *titleWriter) write(title string) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.save(ctx, title)
	if err != nil {
		titleWrites.WithLabelValues("failed").Inc()
		return err
	}
	titleWrites.WithLabelValues("ok").Inc()
	return nil
}

func (w *titleWriter) take() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return "", false
	}
	title := *w.pending
	w.pending = nil
	return title, true
}

// 失败期间已经有更新的标题就不放回
func (w *titleWriter) putBack(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = &title
	}
}
