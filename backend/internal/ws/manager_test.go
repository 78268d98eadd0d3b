package ws

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"draftCollab/backend/internal/collab"
	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/store"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]store.Snapshot
}

func (m *memDocs) Load(ctx context.Context, docID string) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrDocumentNotFound, docID)
	}
	return &snap, nil
}

func (m *memDocs) SaveContent(ctx context.Context, docID string, w store.ContentWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.docs[docID]
	snap.Body, snap.AltBody, snap.Version = w.Body, w.AltBody, w.Revision
	m.docs[docID] = snap
	return nil
}

func (m *memDocs) SaveTitle(ctx context.Context, docID string, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.docs[docID]
	snap.Title = title
	m.docs[docID] = snap
	return nil
}

type staticNames map[uint64]string

func (n staticNames) DisplayName(ctx context.Context, userID uint64, fallback string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return fallback
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	docs := &memDocs{docs: map[string]store.Snapshot{
		"doc-1": {ID: "doc-1", Title: "Notes", Body: "hello", Version: 4},
	}}
	reg := collab.NewRegistry(docs, nil, nil, nil, collab.Options{
		SaveDebounce:    20 * time.Millisecond,
		RoomGracePeriod: 20 * time.Millisecond,
	})
	m := NewManager(reg, staticNames{1: "Ada Lovelace"}, 16)

	r := gin.New()
	// 测试里用 query 里的 uid 代替鉴权中间件
	r.GET("/collab/ws", func(c *gin.Context) {
		uid, _ := strconv.ParseUint(c.Query("uid"), 10, 64)
		c.Set("userId", uid)
		c.Set("username", "user"+c.Query("uid"))
		c.Next()
	}, m.WebSocketConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, docID string, uid int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/collab/ws?docId=%s&uid=%d", docID, uid)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next 读到第一条 typ 类型的消息，跳过其他类型
func next(t *testing.T, conn *websocket.Conn, typ string) protocol.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg protocol.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocket_InitAndRelay(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "doc-1", 1)
	initA := next(t, a, protocol.TypeInit)
	if initA.Content != "hello" || initA.Title != "Notes" || initA.Revision != 4 {
		t.Fatalf("init = %+v", initA)
	}
	if initA.Self == nil || initA.Self.DisplayName != "Ada Lovelace" || initA.Self.ParticipantID != "1" {
		t.Fatalf("init self = %+v", initA.Self)
	}

	b := dial(t, srv, "doc-1", 2)
	initB := next(t, b, protocol.TypeInit)
	if len(initB.ActiveUsers) != 2 {
		t.Fatalf("second init roster = %+v", initB.ActiveUsers)
	}
	join := next(t, a, protocol.TypeUserJoin)
	if join.User == nil || join.User.DisplayName != "user2" {
		t.Fatalf("user_join = %+v", join)
	}

	if err := a.WriteJSON(map[string]any{"type": "operation", "content": "hello world", "contentType": "markdown", "version": 1700000000000}); err != nil {
		t.Fatalf("write operation: %v", err)
	}
	ack := next(t, a, protocol.TypeOpAck)
	op := next(t, b, protocol.TypeOperation)
	if op.Content != "hello world" || op.Revision != ack.Revision || op.ParticipantID != "1" {
		t.Fatalf("relayed op = %+v, ack = %+v", op, ack)
	}

	if err := b.WriteJSON(map[string]any{"type": "cursor", "position": 3}); err != nil {
		t.Fatalf("write cursor: %v", err)
	}
	if cur := next(t, a, protocol.TypeCursor); cur.Position != 3 || cur.ParticipantID != "2" {
		t.Fatalf("cursor = %+v", cur)
	}

	_ = b.Close()
	leave := next(t, a, protocol.TypeUserLeave)
	if len(leave.ActiveUsers) != 1 {
		t.Fatalf("user_leave roster = %+v", leave.ActiveUsers)
	}
}

func TestWebSocket_BadMessages(t *testing.T) {
	srv := newTestServer(t)
	a := dial(t, srv, "doc-1", 1)
	next(t, a, protocol.TypeInit)

	if err := a.WriteJSON(map[string]any{"type": "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := next(t, a, protocol.TypeError); e.Code != protocol.CodeUnknownType {
		t.Fatalf("error = %+v", e)
	}
	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := next(t, a, protocol.TypeError); e.Code != protocol.CodeBadMessage {
		t.Fatalf("error = %+v", e)
	}
	if err := a.WriteJSON(map[string]any{"type": "operation", "content": "x", "contentType": "docx"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := next(t, a, protocol.TypeError); e.Code != protocol.CodeBadMessage {
		t.Fatalf("error = %+v", e)
	}

	// 连接仍然可用
	if err := a.WriteJSON(map[string]any{"type": "resync"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if doc := next(t, a, protocol.TypeDocument); doc.Content != "hello" {
		t.Fatalf("document = %+v", doc)
	}
}

func TestWebSocket_RoomUnavailable(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "missing", 1)

	e := next(t, conn, protocol.TypeError)
	if e.Code != protocol.CodeRoomUnavailable {
		t.Fatalf("error = %+v", e)
	}
	var msg protocol.ServerMessage
	err := conn.ReadJSON(&msg)
	if !websocket.IsCloseError(err, CloseRoomUnavailable) {
		t.Fatalf("read after error = %v, want close %d", err, CloseRoomUnavailable)
	}
}
