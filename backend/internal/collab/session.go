package collab

import (
	"fmt"
	"log"
	"sync/atomic"

	"draftCollab/backend/internal/protocol"
)

type Participant struct {
	ID          string
	DisplayName string
}

// Sender：会话的出站队列，由传输层实现
type Sender interface {
	// 队列满时返回 false，不阻塞
	Enqueue(msg protocol.OutboundMessage) bool
	// 断开底层连接，不阻塞
	Close()
}

// Session：一个参与者在一个房间里的一条连接
type Session struct {
	ID          string
	DocID       string
	Participant Participant
	Color       string

	sender   Sender
	room     *Room
	registry *Registry
	left     atomic.Bool

	// 只由房间 goroutine 读写
	cursor *protocol.Cursor
	kicked bool
}

func (s *Session) entry() protocol.RosterEntry {
	e := protocol.RosterEntry{
		SessionID:     s.ID,
		ParticipantID: s.Participant.ID,
		DisplayName:   s.Participant.DisplayName,
		Color:         s.Color,
	}
	if s.cursor != nil {
		c := *s.cursor
		e.Cursor = &c
	}
	return e
}

// Submit 整篇替换，后提交者覆盖先提交者
func (s *Session) Submit(op protocol.Operation) error {
	if op.ContentType == "" {
		op.ContentType = protocol.ContentMarkdown
	}
	if op.ContentType != protocol.ContentMarkdown && op.ContentType != protocol.ContentLatex {
		return fmt.Errorf("%w: %q", ErrBadContentType, op.ContentType)
	}
	return s.post(submitEvent{s: s, op: op})
}

func (s *Session) MoveCursor(c protocol.Cursor) error {
	return s.post(cursorEvent{s: s, cursor: c})
}

func (s *Session) UpdateTitle(title string) error {
	return s.post(titleEvent{s: s, title: title})
}

// Save 立即落盘；op 不为空时先按普通提交处理
func (s *Session) Save(op *protocol.Operation) error {
	if op != nil && op.ContentType == "" {
		op.ContentType = protocol.ContentMarkdown
	}
	if op != nil && op.ContentType != protocol.ContentMarkdown && op.ContentType != protocol.ContentLatex {
		return fmt.Errorf("%w: %q", ErrBadContentType, op.ContentType)
	}
	return s.post(saveEvent{s: s, op: op})
}

func (s *Session) Resync() error {
	return s.post(resyncEvent{s: s})
}

func (s *Session) Heartbeat() error {
	return s.post(heartbeatEvent{s: s})
}

// Leave 可重复调用
func (s *Session) Leave() {
	s.registry.leave(s)
}

func (s *Session) Left() bool {
	return s.left.Load()
}

func (s *Session) post(ev roomEvent) error {
	if s.left.Load() || !s.room.post(ev) {
		staleOperations.Inc()
		log.Printf("drop stale %s session=%s doc=%s", ev.name(), s.ID, s.DocID)
		return ErrStaleOperation
	}
	return nil
}
