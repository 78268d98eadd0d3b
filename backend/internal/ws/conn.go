package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"draftCollab/backend/internal/collab"
	"draftCollab/backend/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20 // 整篇内容随消息发送
)

// Conn：一条 WebSocket 连接，实现 collab.Sender
type Conn struct {
	ws      *websocket.Conn
	docID   string
	userID  uint64
	session *collab.Session

	// send 是出站队列，只由 writeLoop 消费；closed 关闭后 Enqueue 一律失败
	send      chan protocol.OutboundMessage
	closed    chan struct{}
	closeOnce sync.Once
	final     *closeFrame // 只在 close(closed) 之前写入
}

func NewConn(ws *websocket.Conn, docID string, userID uint64, queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Conn{
		ws:     ws,
		docID:  docID,
		userID: userID,
		send:   make(chan protocol.OutboundMessage, queueSize),
		closed: make(chan struct{}),
	}
}

// Enqueue 不阻塞，队列满返回 false
func (c *Conn) Enqueue(msg protocol.OutboundMessage) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close 断开连接，readLoop 随即返回
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

// closeWith 停掉写循环后直接发出最后一条消息和关闭帧
func (c *Conn) closeWith(msg protocol.OutboundMessage, code int, reason string) {
	c.closeOnce.Do(func() {
		c.final = &closeFrame{msg: msg, code: code, reason: reason}
		close(c.closed)
	})
}

type closeFrame struct {
	msg    protocol.OutboundMessage
	code   int
	reason string
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				log.Printf("write json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			// 把已经排队的消息尽量发完再断开
			for {
				select {
				case msg := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteJSON(msg); err != nil {
						return
					}
				default:
					code, reason := websocket.CloseNormalClosure, ""
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if f := c.final; f != nil {
						if f.msg != nil {
							_ = c.ws.WriteJSON(f.msg)
						}
						code, reason = f.code, f.reason
					}
					_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
					return
				}
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer c.Close()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg protocol.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			// 非法 JSON 只丢弃这一帧，回报错误后继续读
			if isDecodeError(err) {
				c.Enqueue(protocol.ErrorMessage{Type: protocol.TypeError, Code: protocol.CodeBadMessage, Message: err.Error()})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read json error (user=%d, doc=%s): %v", c.userID, c.docID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.dispatch(msg); err != nil {
			if errors.Is(err, collab.ErrStaleOperation) {
				return
			}
			c.Enqueue(protocol.ErrorMessage{Type: protocol.TypeError, Code: protocol.CodeBadMessage, Message: err.Error()})
		}
	}
}

var errMissingField = errors.New("missing field")

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (c *Conn) dispatch(msg protocol.ClientMessage) error {
	s := c.session
	switch msg.Type {
	case protocol.TypeHeartbeat:
		return s.Heartbeat()
	case protocol.TypeOperation:
		if msg.Content == nil {
			return errMissingField
		}
		return s.Submit(protocol.Operation{Content: *msg.Content, ContentType: msg.ContentType, Version: msg.Version})
	case protocol.TypeCursor:
		if msg.Position == nil {
			return errMissingField
		}
		return s.MoveCursor(protocol.Cursor{Position: *msg.Position, Selection: msg.Selection})
	case protocol.TypeTitleUpdate:
		if msg.Title == nil {
			return errMissingField
		}
		return s.UpdateTitle(*msg.Title)
	case protocol.TypeSave:
		var op *protocol.Operation
		if msg.Content != nil {
			op = &protocol.Operation{Content: *msg.Content, ContentType: msg.ContentType, Version: msg.Version}
		}
		return s.Save(op)
	case protocol.TypeResync:
		return s.Resync()
	default:
		c.Enqueue(protocol.ErrorMessage{Type: protocol.TypeError, Code: protocol.CodeUnknownType, Message: msg.Type})
		return nil
	}
}
