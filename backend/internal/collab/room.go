package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/store"
)

type roomEvent interface{ name() string }

type joinEvent struct {
	s    *Session
	done chan struct{}
}
type leaveEvent struct {
	s    *Session
	done chan struct{}
}
type submitEvent struct {
	s  *Session
	op protocol.Operation
}
type cursorEvent struct {
	s      *Session
	cursor protocol.Cursor
}
type titleEvent struct {
	s     *Session
	title string
}
type saveEvent struct {
	s  *Session
	op *protocol.Operation
}
type resyncEvent struct{ s *Session }
type heartbeatEvent struct{ s *Session }
type broadcastEvent struct {
	msg     protocol.OutboundMessage
	exclude *Session
}
type rosterEvent struct{ reply chan []protocol.RosterEntry }
type writeDoneEvent struct {
	w   PendingWrite
	err error
}
type stopEvent struct{}

func (joinEvent) name() string      { return "join" }
func (leaveEvent) name() string     { return "leave" }
func (submitEvent) name() string    { return "operation" }
func (cursorEvent) name() string    { return "cursor" }
func (titleEvent) name() string     { return "title_update" }
func (saveEvent) name() string      { return "save" }
func (resyncEvent) name() string    { return "resync" }
func (heartbeatEvent) name() string { return "heartbeat" }
func (broadcastEvent) name() string { return "broadcast" }
func (rosterEvent) name() string    { return "roster" }
func (writeDoneEvent) name() string { return "write_done" }
func (stopEvent) name() string      { return "stop" }

// Room：一个文档的顺序执行单元
// 内容、名单、光标只在 run 所在的 goroutine 里修改；其他 goroutine 通过 events 投递
type Room struct {
	id  string
	reg *Registry

	events   chan roomEvent
	stopping chan struct{}
	done     chan struct{}
	// 镜像写入按 key 合并，可以为 nil
	mirror *mirrorQueue
	titles *titleWriter

	title         string
	body          string
	altBody       string
	revision      uint64
	savedRevision uint64
	sessions      []*Session
	debouncer     *Debouncer
}

func newRoom(docID string, snap *store.Snapshot, reg *Registry) *Room {
	r := &Room{
		id:            docID,
		reg:           reg,
		events:        make(chan roomEvent, reg.opt.EventQueueSize),
		stopping:      make(chan struct{}),
		done:          make(chan struct{}),
		title:         snap.Title,
		body:          snap.Body,
		altBody:       snap.AltBody,
		revision:      snap.Version,
		savedRevision: snap.Version,
	}
	if reg.mirror != nil {
		r.mirror = newMirrorQueue(reg.opt.WriteTimeout)
	}
	r.titles = newTitleWriter(docID, r.persistTitle, reg.opt.WriteTimeout, reg.opt.TitleRetryDelay)
	r.debouncer = NewDebouncer(reg.opt.SaveDebounce, reg.opt.WriteTimeout, r.persist, func(w PendingWrite, err error) {
		r.post(writeDoneEvent{w: w, err: err})
	})
	return r
}

// post 房间停止后返回 false
func (r *Room) post(ev roomEvent) bool {
	select {
	case <-r.stopping:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.stopping:
		return false
	}
}

func (r *Room) stop() {
	r.post(stopEvent{})
}

func (r *Room) run() {
	defer close(r.done)
	for ev := range r.events {
		switch e := ev.(type) {
		case joinEvent:
			r.handleJoin(e.s)
			close(e.done)
		case leaveEvent:
			r.handleLeave(e.s)
			close(e.done)
		case submitEvent:
			r.handleSubmit(e.s, e.op)
		case cursorEvent:
			r.handleCursor(e.s, e.cursor)
		case titleEvent:
			r.handleTitle(e.s, e.title)
		case saveEvent:
			r.handleSave(e.s, e.op)
		case resyncEvent:
			if r.member(e.s) {
				r.send(e.s, r.document())
			}
		case heartbeatEvent:
			if r.member(e.s) {
				r.mirrorAdd(e.s)
			}
		case broadcastEvent:
			r.broadcast(e.msg, e.exclude)
		case rosterEvent:
			e.reply <- r.roster()
		case writeDoneEvent:
			r.handleWriteDone(e.w, e.err)
		case stopEvent:
			r.shutdown()
			return
		}
	}
}

func (r *Room) shutdown() {
	close(r.stopping)
	// 最后一次落盘，写完之后 done 才会关闭
	r.debouncer.Close()
	r.titles.Close()
	if r.mirror != nil {
		r.mirror.close()
	}
	log.Printf("room stopped doc=%s rev=%d saved=%d", r.id, r.revision, r.savedRevision)
}

func (r *Room) handleJoin(s *Session) {
	r.sessions = append(r.sessions, s)
	sessionsActive.Inc()
	roster := r.roster()
	r.send(s, protocol.InitMessage{
		Type:        protocol.TypeInit,
		DocID:       r.id,
		SessionID:   s.ID,
		Self:        s.entry(),
		Title:       r.title,
		Content:     r.body,
		AltContent:  r.altBody,
		Revision:    r.revision,
		ActiveUsers: roster,
	})
	r.broadcast(protocol.PresenceMessage{Type: protocol.TypeUserJoin, User: s.entry(), ActiveUsers: roster}, s)
	r.mirrorAdd(s)
}

func (r *Room) handleLeave(s *Session) {
	idx := r.indexOf(s)
	if idx < 0 {
		return
	}
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	sessionsActive.Dec()
	r.broadcast(protocol.PresenceMessage{Type: protocol.TypeUserLeave, User: s.entry(), ActiveUsers: r.roster()}, nil)
	if mirror := r.reg.mirror; mirror != nil {
		docID, sessionID := r.id, s.ID
		// RemoveMember 会连光标一起删，排在它前面的光标写入没必要再做
		r.mirror.drop(cursorKey(sessionID))
		r.mirror.put(memberKey(sessionID), func(ctx context.Context) {
			if err := mirror.RemoveMember(ctx, docID, sessionID); err != nil {
				log.Printf("presence mirror remove failed doc=%s session=%s: %v", docID, sessionID, err)
			}
		})
	}
}

func (r *Room) handleSubmit(s *Session, op protocol.Operation) {
	if !r.member(s) {
		staleOperations.Inc()
		log.Printf("drop stale operation session=%s doc=%s", s.ID, r.id)
		return
	}
	if op.ContentType == protocol.ContentLatex {
		r.altBody = op.Content
	} else {
		r.body = op.Content
	}
	r.revision++
	operationsAccepted.WithLabelValues(op.ContentType).Inc()

	r.broadcast(protocol.OperationMessage{
		Type:          protocol.TypeOperation,
		DocID:         r.id,
		Content:       op.Content,
		ContentType:   op.ContentType,
		Version:       op.Version,
		Revision:      r.revision,
		ParticipantID: s.Participant.ID,
		SessionID:     s.ID,
	}, s)
	r.send(s, protocol.AckMessage{Type: protocol.TypeOpAck, Revision: r.revision, Version: op.Version})
	r.debouncer.Notify(PendingWrite{Body: r.body, AltBody: r.altBody, Revision: r.revision})
}

// 光标只发一条定向消息，不重发名单
func (r *Room) handleCursor(s *Session, c protocol.Cursor) {
	if !r.member(s) {
		return
	}
	s.cursor = &c
	r.broadcast(protocol.CursorMessage{
		Type:          protocol.TypeCursor,
		ParticipantID: s.Participant.ID,
		SessionID:     s.ID,
		DisplayName:   s.Participant.DisplayName,
		Color:         s.Color,
		Position:      c.Position,
		Selection:     c.Selection,
	}, s)
	if mirror := r.reg.mirror; mirror != nil {
		b, err := json.Marshal(c)
		if err != nil {
			return
		}
		docID, sessionID, ttl := r.id, s.ID, r.reg.opt.PresenceTTL
		r.mirror.put(cursorKey(sessionID), func(ctx context.Context) {
			if err := mirror.SetCursor(ctx, docID, sessionID, b, ttl); err != nil {
				log.Printf("presence mirror cursor failed doc=%s session=%s: %v", docID, sessionID, err)
			}
		})
	}
}

// 标题不走防抖，交给 titleWriter 尽快落盘
func (r *Room) handleTitle(s *Session, title string) {
	if !r.member(s) {
		return
	}
	r.title = title
	r.broadcast(protocol.TitleMessage{
		Type:          protocol.TypeTitleUpdate,
		Title:         title,
		ParticipantID: s.Participant.ID,
		SessionID:     s.ID,
	}, s)
	r.titles.Set(title)
}

// persistTitle 在 titleWriter 的 goroutine 上执行
func (r *Room) persistTitle(ctx context.Context, title string) error {
	if err := r.reg.store.SaveTitle(ctx, r.id, title); err != nil {
		return fmt.Errorf("%w: doc=%s title: %w", ErrPersistenceWriteFailed, r.id, err)
	}
	r.publish(DocEvent{EventType: EventTitleUpdated, DocID: r.id, Title: title, OccurredAt: time.Now().UTC()})
	return nil
}

func (r *Room) handleSave(s *Session, op *protocol.Operation) {
	if !r.member(s) {
		return
	}
	if op != nil {
		r.handleSubmit(s, *op)
	}
	// 没有待写内容时直接回 saved，否则等写完后统一广播
	if !r.debouncer.Flush() && !r.debouncer.Pending() {
		r.send(s, protocol.SavedMessage{Type: protocol.TypeSaved, Revision: r.savedRevision, SavedAt: time.Now().UTC()})
	}
}

func (r *Room) handleWriteDone(w PendingWrite, err error) {
	if err != nil {
		return
	}
	if w.Revision > r.savedRevision {
		r.savedRevision = w.Revision
	}
	r.broadcast(protocol.SavedMessage{Type: protocol.TypeSaved, Revision: w.Revision, SavedAt: time.Now().UTC()}, nil)
}

// persist 在防抖器的 goroutine 上执行，只读不可变字段
func (r *Room) persist(ctx context.Context, w PendingWrite) error {
	if err := r.reg.sem.Acquire(ctx); err != nil {
		persistWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: doc=%s rev=%d: %w", ErrPersistenceWriteFailed, r.id, w.Revision, err)
	}
	defer r.reg.sem.Release()

	err := r.reg.store.SaveContent(ctx, r.id, store.ContentWrite{Body: w.Body, AltBody: w.AltBody, Revision: w.Revision})
	if err != nil {
		persistWrites.WithLabelValues("failed").Inc()
		log.Printf("debounced write failed, keep pending doc=%s rev=%d: %v", r.id, w.Revision, err)
		return fmt.Errorf("%w: doc=%s rev=%d: %w", ErrPersistenceWriteFailed, r.id, w.Revision, err)
	}
	persistWrites.WithLabelValues("ok").Inc()
	r.publish(DocEvent{
		EventType:  EventDraftSaved,
		DocID:      r.id,
		Revision:   w.Revision,
		Citations:  store.ExtractCitations(w.Body),
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

func (r *Room) publish(evt DocEvent) {
	if r.reg.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.reg.publisher.Enqueue(ctx, evt); err != nil {
		log.Printf("enqueue doc event failed type=%s doc=%s: %v", evt.EventType, evt.DocID, err)
	}
}

func (r *Room) mirrorAdd(s *Session) {
	mirror := r.reg.mirror
	if mirror == nil {
		return
	}
	docID, ttl := r.id, r.reg.opt.PresenceTTL
	m := cache.PresenceMember{
		SessionID:     s.ID,
		ParticipantID: s.Participant.ID,
		DisplayName:   s.Participant.DisplayName,
		Color:         s.Color,
	}
	r.mirror.put(memberKey(s.ID), func(ctx context.Context) {
		if err := mirror.AddMember(ctx, docID, m, ttl); err != nil {
			log.Printf("presence mirror add failed doc=%s session=%s: %v", docID, m.SessionID, err)
		}
	})
}

func (r *Room) document() protocol.DocumentMessage {
	return protocol.DocumentMessage{
		Type:       protocol.TypeDocument,
		DocID:      r.id,
		Title:      r.title,
		Content:    r.body,
		AltContent: r.altBody,
		Revision:   r.revision,
	}
}

// 按入房顺序
func (r *Room) roster() []protocol.RosterEntry {
	out := make([]protocol.RosterEntry, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.entry())
	}
	return out
}

func (r *Room) indexOf(s *Session) int {
	for i, cur := range r.sessions {
		if cur == s {
			return i
		}
	}
	return -1
}

func (r *Room) member(s *Session) bool { return r.indexOf(s) >= 0 }

func (r *Room) broadcast(msg protocol.OutboundMessage, exclude *Session) {
	for _, s := range r.sessions {
		if s == exclude {
			continue
		}
		r.send(s, msg)
	}
}

// 出站队列满的会话直接断开，客户端重连后由 init 重新对齐
func (r *Room) send(s *Session, msg protocol.OutboundMessage) {
	if s.kicked {
		return
	}
	if !s.sender.Enqueue(msg) {
		s.kicked = true
		sessionsKicked.Inc()
		log.Printf("outbound queue full, kick session=%s doc=%s type=%s", s.ID, r.id, msg.MessageType())
		s.sender.Close()
	}
}
