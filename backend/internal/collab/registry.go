package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/store"
)

var ErrRegistryClosed = errors.New("registry closed")

// 文档存储，由 store.DocumentStore 实现
type DocumentStore interface {
	Load(ctx context.Context, docID string) (*store.Snapshot, error)
	SaveContent(ctx context.Context, docID string, w store.ContentWrite) error
	SaveTitle(ctx context.Context, docID string, title string) error
}

// 在线名单镜像，由 cache.PresenceCache 实现
type PresenceMirror interface {
	AddMember(ctx context.Context, docID string, m cache.PresenceMember, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, sessionID string) error
	SetCursor(ctx context.Context, docID string, sessionID string, jsonData []byte, ttl time.Duration) error
}

// 文档事件出口，由 KafkaDispatcher 实现
type EventPublisher interface {
	Enqueue(ctx context.Context, evt DocEvent) error
}

type Options struct {
	SaveDebounce    time.Duration
	RoomGracePeriod time.Duration
	LoadTimeout     time.Duration
	WriteTimeout    time.Duration
	PresenceTTL     time.Duration
	EventQueueSize  int
	TitleRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.SaveDebounce <= 0 {
		o.SaveDebounce = 2 * time.Second
	}
	if o.RoomGracePeriod < 0 {
		o.RoomGracePeriod = 0
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 60 * time.Second
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = 256
	}
	if o.TitleRetryDelay <= 0 {
		o.TitleRetryDelay = time.Second
	}
	return o
}

type roomEntry struct {
	room     *Room
	refs     int
	timer    *time.Timer
	timerGen uint64
}

// Registry：docId -> Room，按成员数引用计数，归零后保留一个宽限期再销毁
type Registry struct {
	store     DocumentStore
	mirror    PresenceMirror
	publisher EventPublisher
	sem       *SemaphoreControl
	opt       Options

	sf      singleflight.Group
	mu      sync.Mutex
	rooms   map[string]*roomEntry
	closing map[string]chan struct{}
	closed  bool
}

// mirror / publisher 可以为 nil
func NewRegistry(docs DocumentStore, mirror PresenceMirror, publisher EventPublisher, sem *SemaphoreControl, opt Options) *Registry {
	if sem == nil {
		sem = NewSemaphoreControl(0)
	}
	return &Registry{
		store:     docs,
		mirror:    mirror,
		publisher: publisher,
		sem:       sem,
		opt:       opt.withDefaults(),
		rooms:     make(map[string]*roomEntry),
		closing:   make(map[string]chan struct{}),
	}
}

// Join 文档加载失败时返回 ErrRoomUnavailable，不创建会话
func (r *Registry) Join(ctx context.Context, docID string, p Participant, sender Sender) (*Session, error) {
	room, err := r.acquire(ctx, docID)
	if err != nil {
		roomLoadFailures.Inc()
		return nil, fmt.Errorf("%w: doc=%s: %w", ErrRoomUnavailable, docID, err)
	}
	s := &Session{
		ID:          uuid.NewString(),
		DocID:       docID,
		Participant: p,
		Color:       ColorFor(p.ID),
		sender:      sender,
		room:        room,
		registry:    r,
	}
	done := make(chan struct{})
	if !room.post(joinEvent{s: s, done: done}) {
		r.release(docID, room)
		return nil, fmt.Errorf("%w: doc=%s: room stopped", ErrRoomUnavailable, docID)
	}
	select {
	case <-done:
	case <-room.done:
		r.release(docID, room)
		return nil, fmt.Errorf("%w: doc=%s: room stopped", ErrRoomUnavailable, docID)
	}
	log.Printf("session joined doc=%s session=%s participant=%s", docID, s.ID, p.ID)
	return s, nil
}

func (r *Registry) Leave(s *Session) {
	if s != nil {
		r.leave(s)
	}
}

func (r *Registry) leave(s *Session) {
	if !s.left.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	if s.room.post(leaveEvent{s: s, done: done}) {
		select {
		case <-done:
		case <-s.room.done:
		}
	}
	r.release(s.DocID, s.room)
	log.Printf("session left doc=%s session=%s participant=%s", s.DocID, s.ID, s.Participant.ID)
}

// Broadcast 房间不在内存中时返回 false
func (r *Registry) Broadcast(docID string, msg protocol.OutboundMessage, exclude *Session) bool {
	room := r.lookup(docID)
	if room == nil {
		return false
	}
	return room.post(broadcastEvent{msg: msg, exclude: exclude})
}

// ListSessions 房间不在内存中时返回空
func (r *Registry) ListSessions(ctx context.Context, docID string) ([]protocol.RosterEntry, error) {
	room := r.lookup(docID)
	if room == nil {
		return nil, nil
	}
	reply := make(chan []protocol.RosterEntry, 1)
	if !room.post(rosterEvent{reply: reply}) {
		return nil, nil
	}
	select {
	case roster := <-reply:
		return roster, nil
	case <-room.done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) ActiveRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// WritesInFlight 正在进行的落盘数
func (r *Registry) WritesInFlight() int {
	return r.sem.InUse()
}

// Close 停掉所有房间并等最后一次落盘完成，包括宽限期已到、正在关闭的房间
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for docID, e := range r.rooms {
		r.disarmLocked(e)
		rooms = append(rooms, e.room)
		delete(r.rooms, docID)
	}
	closing := make([]chan struct{}, 0, len(r.closing))
	for _, done := range r.closing {
		closing = append(closing, done)
	}
	r.mu.Unlock()
	for _, room := range rooms {
		room.stop()
		<-room.done
		roomsActive.Dec()
	}
	for _, done := range closing {
		<-done
	}
}

func (r *Registry) lookup(docID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rooms[docID]; ok {
		return e.room
	}
	return nil
}

func (r *Registry) acquire(ctx context.Context, docID string) (*Room, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if e, ok := r.rooms[docID]; ok {
			e.refs++
			r.disarmLocked(e)
			r.mu.Unlock()
			return e.room, nil
		}
		r.mu.Unlock()

		// 同一文档的并发首次加载只读一次库
		ch := r.sf.DoChan(docID, func() (interface{}, error) {
			return nil, r.load(docID)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// load 成功后房间以 0 引用进入 rooms 并开始计宽限期，由 acquire 的下一轮循环认领
func (r *Registry) load(docID string) error {
	r.mu.Lock()
	if _, ok := r.rooms[docID]; ok {
		r.mu.Unlock()
		return nil
	}
	wait := r.closing[docID]
	r.mu.Unlock()
	// 上一个同名房间还在做最后一次落盘
	if wait != nil {
		<-wait
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opt.LoadTimeout)
	defer cancel()
	snap, err := r.store.Load(ctx, docID)
	if err != nil {
		log.Printf("load document failed doc=%s: %v", docID, err)
		return err
	}

	room := newRoom(docID, snap, r)
	go room.run()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		room.stop()
		<-room.done
		return ErrRegistryClosed
	}
	e := &roomEntry{room: room}
	r.rooms[docID] = e
	r.armLocked(docID, e)
	r.mu.Unlock()
	roomsActive.Inc()
	log.Printf("room loaded doc=%s rev=%d", docID, snap.Version)
	return nil
}

func (r *Registry) release(docID string, room *Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[docID]
	if !ok || e.room != room {
		return
	}
	e.refs--
	if e.refs <= 0 {
		e.refs = 0
		r.armLocked(docID, e)
	}
}

func (r *Registry) armLocked(docID string, e *roomEntry) {
	r.disarmLocked(e)
	gen := e.timerGen
	e.timer = time.AfterFunc(r.opt.RoomGracePeriod, func() { r.expire(docID, e, gen) })
}

func (r *Registry) disarmLocked(e *roomEntry) {
	e.timerGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (r *Registry) expire(docID string, e *roomEntry, gen uint64) {
	r.mu.Lock()
	cur, ok := r.rooms[docID]
	if !ok || cur != e || e.refs > 0 || e.timerGen != gen {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, docID)
	done := e.room.done
	r.closing[docID] = done
	r.mu.Unlock()

	e.room.stop()
	go func() {
		<-done
		r.mu.Lock()
		if r.closing[docID] == done {
			delete(r.closing, docID)
		}
		r.mu.Unlock()
		roomsActive.Dec()
	}()
}
