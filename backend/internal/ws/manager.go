package ws

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"draftCollab/backend/internal/collab"
	"draftCollab/backend/internal/protocol"
)

// 房间加载失败时的关闭码
const CloseRoomUnavailable = 4004

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// 入房，由 collab.Registry 实现
type Joiner interface {
	Join(ctx context.Context, docID string, p collab.Participant, sender collab.Sender) (*collab.Session, error)
}

// 展示名解析，由 cache.DisplayNames 实现
type NameResolver interface {
	DisplayName(ctx context.Context, userID uint64, fallback string) string
}

type Manager struct {
	rooms     Joiner
	names     NameResolver // 可以为 nil
	queueSize int
}

func NewManager(rooms Joiner, names NameResolver, queueSize int) *Manager {
	return &Manager{rooms: rooms, names: names, queueSize: queueSize}
}

// WebSocketConnect GET /collab/ws?docId=...，鉴权中间件已写入 userId/username
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	docID := c.Query("docId")
	if docID == "" {
		c.String(http.StatusBadRequest, "missing docId")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	displayName := username
	if m.names != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		displayName = m.names.DisplayName(ctx, userID, username)
		cancel()
	}

	wsConn := NewConn(conn, docID, userID, m.queueSize)
	participant := collab.Participant{ID: strconv.FormatUint(userID, 10), DisplayName: displayName}

	// 先启动写循环，Join 期间房间推送的 init 才能及时发出
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		wsConn.writeLoop()
	}()

	session, err := m.rooms.Join(c.Request.Context(), docID, participant, wsConn)
	if err != nil {
		log.Printf("join room failed (user=%d, doc=%s): %v", userID, docID, err)
		wsConn.closeWith(protocol.ErrorMessage{Type: protocol.TypeError, Code: protocol.CodeRoomUnavailable, Message: "document could not be loaded"},
			CloseRoomUnavailable, "room unavailable")
		<-writerDone
		return
	}
	defer session.Leave()
	wsConn.session = session

	// 阻塞至连接关闭
	wsConn.readLoop()
	<-writerDone
}
