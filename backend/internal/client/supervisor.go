package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"draftCollab/backend/internal/protocol"
)

var (
	ErrConnectionLost = errors.New("connection lost")
	ErrOffline        = errors.New("offline: reconnect attempts exhausted")
)

type ConnState int

const (
	Disconnected ConnState = iota
	Reconnecting
	Connected
	Offline
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case Connected:
		return "connected"
	case Offline:
		return "offline"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

type Status struct {
	State   ConnState
	Attempt int // 只在 Reconnecting 时有意义，从 1 开始
}

// Transport：一条已建立的房间连接；Recv 只在一个 goroutine 里调用
type Transport interface {
	Send(msg protocol.ClientMessage) error
	Recv() (protocol.ServerMessage, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

type SupervisorOptions struct {
	BaseDelay   time.Duration // 默认 500ms
	MaxDelay    time.Duration // 默认 10s
	MaxAttempts int           // 默认 6
	OnStatus    func(Status)
	// 测试里替换掉真实等待
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor：断线重连，指数退避封顶；收到 init 才算重新连上
type Supervisor struct {
	dialer Dialer
	opt    SupervisorOptions

	mu     sync.Mutex
	cur    Transport
	status Status
}

func NewSupervisor(dialer Dialer, opt SupervisorOptions) *Supervisor {
	if opt.BaseDelay <= 0 {
		opt.BaseDelay = 500 * time.Millisecond
	}
	if opt.MaxDelay <= 0 {
		opt.MaxDelay = 10 * time.Second
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = 6
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepCtx
	}
	return &Supervisor{dialer: dialer, opt: opt}
}

// Backoff 第 n 次重连（n 从 1 开始）前的等待时间
func (s *Supervisor) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := s.opt.BaseDelay
	for i := 1; i < n; i++ {
		d <<= 1
		if d >= s.opt.MaxDelay || d <= 0 {
			return s.opt.MaxDelay
		}
	}
	if d > s.opt.MaxDelay {
		return s.opt.MaxDelay
	}
	return d
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send 未连接时返回 ErrConnectionLost，不排队
func (s *Supervisor) Send(msg protocol.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.status.State != Connected {
		return ErrConnectionLost
	}
	if err := s.cur.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// Run 阻塞到 ctx 结束或进入 Offline；每条服务端消息都交给 handle
func (s *Supervisor) Run(ctx context.Context, handle func(protocol.ServerMessage)) error {
	attempt := 0
	for {
		if attempt > 0 {
			if attempt > s.opt.MaxAttempts {
				s.setStatus(Status{State: Offline})
				return ErrOffline
			}
			s.setStatus(Status{State: Reconnecting, Attempt: attempt})
			if err := s.opt.Sleep(ctx, s.Backoff(attempt)); err != nil {
				return err
			}
		}

		t, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("dial room failed attempt=%d: %v", attempt, err)
			attempt++
			continue
		}

		if s.serve(ctx, t, handle) {
			attempt = 0
		}
		if ctx.Err() != nil {
			s.setStatus(Status{State: Disconnected})
			return ctx.Err()
		}
		log.Printf("%v, reconnecting", ErrConnectionLost)
		s.setStatus(Status{State: Disconnected})
		attempt++
	}
}

// serve 读到连接断开为止，返回是否收到过 init
func (s *Supervisor) serve(ctx context.Context, t Transport, handle func(protocol.ServerMessage)) bool {
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	defer func() {
		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()
		_ = t.Close()
	}()

	s.mu.Lock()
	s.cur = t
	s.mu.Unlock()

	gotInit := false
	for {
		msg, err := t.Recv()
		if err != nil {
			return gotInit
		}
		if msg.Type == protocol.TypeInit {
			gotInit = true
			s.setStatus(Status{State: Connected})
		}
		handle(msg)
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	changed := s.status != st
	s.status = st
	s.mu.Unlock()
	if changed && s.opt.OnStatus != nil {
		s.opt.OnStatus(st)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
