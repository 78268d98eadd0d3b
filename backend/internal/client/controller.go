package client

import (
	"context"
	"sync"
	"time"

	"draftCollab/backend/internal/protocol"
	"draftCollab/backend/internal/suggest"
)

// 本地发出后的回显窗口，窗口内与刚发出内容相同的 operation 视为回显
const defaultEchoWindow = 300 * time.Millisecond

type ControllerOptions struct {
	EchoWindow time.Duration
	// 收到的每条服务端消息（回显除外）；在 Run 的 goroutine 里调用
	OnMessage  func(protocol.ServerMessage)
	Supervisor SupervisorOptions
	// 可以为 nil，表示不启用行内补全
	Suggest *suggest.Pipeline
}

// Controller：客户端编辑会话，维护本地文档副本并驱动补全
type Controller struct {
	sup     *Supervisor
	suggest *suggest.Pipeline
	opt     ControllerOptions

	mu           sync.Mutex
	sessionID    string
	self         protocol.RosterEntry
	title        string
	content      string
	altContent   string
	revision     uint64
	roster       []protocol.RosterEntry
	cursor       int
	lastSent     string
	lastSentAt   time.Time
	ackRevision  uint64
	savedThrough uint64
}

func NewController(dialer Dialer, opt ControllerOptions) *Controller {
	if opt.EchoWindow <= 0 {
		opt.EchoWindow = defaultEchoWindow
	}
	return &Controller{
		sup:     NewSupervisor(dialer, opt.Supervisor),
		suggest: opt.Suggest,
		opt:     opt,
	}
}

// Snapshot：本地视图
type Snapshot struct {
	SessionID  string
	Self       protocol.RosterEntry
	Title      string
	Content    string
	AltContent string
	Revision   uint64
	Roster     []protocol.RosterEntry
	Saving     bool
	Status     Status
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		SessionID:  c.sessionID,
		Self:       c.self,
		Title:      c.title,
		Content:    c.content,
		AltContent: c.altContent,
		Revision:   c.revision,
		Roster:     append([]protocol.RosterEntry(nil), c.roster...),
		Saving:     c.ackRevision > c.savedThrough,
		Status:     c.sup.Status(),
	}
}

// Run 阻塞，直到 ctx 结束或重连次数用完
func (c *Controller) Run(ctx context.Context) error {
	defer func() {
		if c.suggest != nil {
			c.suggest.Close()
		}
	}()
	return c.sup.Run(ctx, c.handle)
}

// Edit 本地整篇修改 markdown 正文并提交
func (c *Controller) Edit(content string, cursor int) error {
	c.mu.Lock()
	c.content = content
	c.cursor = cursor
	c.lastSent, c.lastSentAt = content, time.Now()
	title := c.title
	c.mu.Unlock()

	if c.suggest != nil {
		c.suggest.OnKeystroke(content, cursor, title)
	}
	return c.sup.Send(protocol.ClientMessage{
		Type:        protocol.TypeOperation,
		Content:     &content,
		ContentType: protocol.ContentMarkdown,
		Version:     time.Now().UnixMilli(),
	})
}

// EditLatex 修改备用格式正文，不触发补全
func (c *Controller) EditLatex(content string) error {
	c.mu.Lock()
	c.altContent = content
	c.lastSent, c.lastSentAt = content, time.Now()
	c.mu.Unlock()
	return c.sup.Send(protocol.ClientMessage{
		Type:        protocol.TypeOperation,
		Content:     &content,
		ContentType: protocol.ContentLatex,
		Version:     time.Now().UnixMilli(),
	})
}

func (c *Controller) MoveCursor(position int, sel *protocol.Selection) error {
	c.mu.Lock()
	c.cursor = position
	c.mu.Unlock()
	if c.suggest != nil {
		c.suggest.MoveCursor(position)
	}
	return c.sup.Send(protocol.ClientMessage{Type: protocol.TypeCursor, Position: &position, Selection: sel})
}

func (c *Controller) SetTitle(title string) error {
	c.mu.Lock()
	c.title = title
	c.mu.Unlock()
	return c.sup.Send(protocol.ClientMessage{Type: protocol.TypeTitleUpdate, Title: &title})
}

func (c *Controller) Save() error {
	return c.sup.Send(protocol.ClientMessage{Type: protocol.TypeSave})
}

func (c *Controller) Resync() error {
	return c.sup.Send(protocol.ClientMessage{Type: protocol.TypeResync})
}

func (c *Controller) Heartbeat() error {
	return c.sup.Send(protocol.ClientMessage{Type: protocol.TypeHeartbeat})
}

// AcceptSuggestion 插入当前建议并作为普通修改提交；没有可接受的建议时返回 false
func (c *Controller) AcceptSuggestion() (bool, error) {
	if c.suggest == nil {
		return false, nil
	}
	c.mu.Lock()
	content := c.content
	c.mu.Unlock()

	anchor := c.suggest.Overlay().Anchor
	out, ok := c.suggest.Accept(content)
	if !ok {
		return false, nil
	}
	cursor := anchor + len([]rune(out)) - len([]rune(content))

	c.mu.Lock()
	c.content = out
	c.cursor = cursor
	c.lastSent, c.lastSentAt = out, time.Now()
	c.mu.Unlock()
	return true, c.sup.Send(protocol.ClientMessage{
		Type:        protocol.TypeOperation,
		Content:     &out,
		ContentType: protocol.ContentMarkdown,
		Version:     time.Now().UnixMilli(),
	})
}

func (c *Controller) DismissSuggestion() {
	if c.suggest != nil {
		c.suggest.Dismiss()
	}
}

func (c *Controller) handle(msg protocol.ServerMessage) {
	c.mu.Lock()
	deliver := true
	switch msg.Type {
	case protocol.TypeInit:
		// 重连后以服务端内容为准
		c.sessionID = msg.SessionID
		if msg.Self != nil {
			c.self = *msg.Self
		}
		c.title, c.content, c.altContent = msg.Title, msg.Content, msg.AltContent
		c.revision = msg.Revision
		c.roster = msg.ActiveUsers
		c.ackRevision, c.savedThrough = 0, 0
		c.lastSent = ""
	case protocol.TypeDocument:
		c.title, c.content, c.altContent = msg.Title, msg.Content, msg.AltContent
		c.revision = msg.Revision
	case protocol.TypeOperation:
		if c.isEchoLocked(msg) {
			deliver = false
			break
		}
		if msg.ContentType == protocol.ContentLatex {
			c.altContent = msg.Content
		} else {
			c.content = msg.Content
		}
		if msg.Revision > c.revision {
			c.revision = msg.Revision
		}
	case protocol.TypeOpAck:
		if msg.Revision > c.revision {
			c.revision = msg.Revision
		}
		if msg.Revision > c.ackRevision {
			c.ackRevision = msg.Revision
		}
	case protocol.TypeSaved:
		if msg.Revision > c.savedThrough {
			c.savedThrough = msg.Revision
		}
	case protocol.TypeUserJoin, protocol.TypeUserLeave:
		c.roster = msg.ActiveUsers
	case protocol.TypeCursor:
		for i := range c.roster {
			if c.roster[i].SessionID == msg.SessionID {
				c.roster[i].Cursor = &protocol.Cursor{Position: msg.Position, Selection: msg.Selection}
			}
		}
	case protocol.TypeTitleUpdate:
		c.title = msg.Title
	}
	c.mu.Unlock()

	if msg.Type == protocol.TypeOperation && deliver && c.suggest != nil {
		// 远端改了内容，旧建议的锚点不再可靠
		c.suggest.Dismiss()
	}
	if deliver && c.opt.OnMessage != nil {
		c.opt.OnMessage(msg)
	}
}

func (c *Controller) isEchoLocked(msg protocol.ServerMessage) bool {
	if c.sessionID != "" && msg.SessionID == c.sessionID {
		return true
	}
	return !c.lastSentAt.IsZero() && time.Since(c.lastSentAt) < c.opt.EchoWindow && msg.Content == c.lastSent
}
