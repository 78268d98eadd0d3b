package collab

import (
	"context"
	"errors"
	"fmt"
)

var DefaultMaxSemaphore = 100

var ErrSemaphoreNotAcquired = errors.New("release failed, semaphore is not acquired")

// SemaphoreControl：限制全局同时进行的落盘/发送数量
type SemaphoreControl struct {
	ch chan struct{}
}

// size <= 0 时使用 DefaultMaxSemaphore
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = DefaultMaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire semaphore: %w", ctx.Err())
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrSemaphoreNotAcquired
	}
}

// InUse 当前已占用的名额
func (s *SemaphoreControl) InUse() int {
	return len(s.ch)
}
