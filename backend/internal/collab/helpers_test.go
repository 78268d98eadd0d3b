package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"draftCollab/backend/internal/cache"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	msgs   []protocol.OutboundMessage
	limit  int
	closed bool
}

func (r *recorder) Enqueue(msg protocol.OutboundMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || (r.limit > 0 && len(r.msgs) >= r.limit) {
		return false
	}
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) ofType(typ string) []protocol.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.OutboundMessage
	for _, m := range r.msgs {
		if m.MessageType() == typ {
			out = append(out, m)
		}
	}
	return out
}

// waitFor 等到收到至少 n 条 typ 类型的消息
func (r *recorder) waitFor(t *testing.T, typ string, n int) []protocol.OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.ofType(typ); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d %q messages, got %d", n, typ, len(r.ofType(typ)))
	return nil
}

type memStore struct {
	mu         sync.Mutex
	docs       map[string]store.Snapshot
	writes     []store.ContentWrite
	titles     []string
	failWrites int
	failTitles int
	saveDelay  time.Duration
	loadErr    error
	loadDelay  time.Duration
	loads      atomic.Int32
}

func newMemStore(docIDs ...string) *memStore {
	s := &memStore{docs: make(map[string]store.Snapshot)}
	for _, id := range docIDs {
		s.docs[id] = store.Snapshot{ID: id}
	}
	return s
}

func (s *memStore) Load(ctx context.Context, docID string) (*store.Snapshot, error) {
	s.loads.Add(1)
	if s.loadDelay > 0 {
		time.Sleep(s.loadDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	snap, ok := s.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrDocumentNotFound, docID)
	}
	return &snap, nil
}

func (s *memStore) SaveContent(ctx context.Context, docID string, w store.ContentWrite) error {
	if s.saveDelay > 0 {
		time.Sleep(s.saveDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("mysql: connection refused")
	}
	s.writes = append(s.writes, w)
	snap := s.docs[docID]
	if w.Revision >= snap.Version {
		snap.Body, snap.AltBody, snap.Version = w.Body, w.AltBody, w.Revision
		s.docs[docID] = snap
	}
	return nil
}

func (s *memStore) SaveTitle(ctx context.Context, docID string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTitles > 0 {
		s.failTitles--
		return errors.New("mysql: deadlock found")
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *memStore) titleList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func (s *memStore) body(docID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[docID].Body
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// slowMirror：每次写光标都要等 cursorDelay，模拟慢 redis
type slowMirror struct {
	cursorDelay time.Duration

	mu      sync.Mutex
	members map[string]bool
	cursors int
}

func newSlowMirror(d time.Duration) *slowMirror {
	return &slowMirror{cursorDelay: d, members: make(map[string]bool)}
}

func (m *slowMirror) AddMember(ctx context.Context, docID string, pm cache.PresenceMember, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[pm.SessionID] = true
	return nil
}

func (m *slowMirror) RemoveMember(ctx context.Context, docID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, sessionID)
	return nil
}

func (m *slowMirror) SetCursor(ctx context.Context, docID, sessionID string, data []byte, ttl time.Duration) error {
	time.Sleep(m.cursorDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors++
	return nil
}

func (m *slowMirror) has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[sessionID]
}

func (m *slowMirror) cursorWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors
}

func testOptions() Options {
	return Options{
		SaveDebounce:    50 * time.Millisecond,
		RoomGracePeriod: 50 * time.Millisecond,
		WriteTimeout:    time.Second,
	}
}

func mustJoin(t *testing.T, reg *Registry, docID, participantID string, rec *recorder) *Session {
	t.Helper()
	s, err := reg.Join(context.Background(), docID, Participant{ID: participantID, DisplayName: "user-" + participantID}, rec)
	if err != nil {
		t.Fatalf("Join(%s, %s) error = %v", docID, participantID, err)
	}
	return s
}

func rosterIDs(entries []protocol.RosterEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ParticipantID)
	}
	return ids
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
