package protocol

import "time"

// 房间通道消息类型
const (
	TypeInit        = "init"
	TypeDocument    = "document"
	TypeOperation   = "operation"
	TypeCursor      = "cursor"
	TypeUserJoin    = "user_join"
	TypeUserLeave   = "user_leave"
	TypeTitleUpdate = "title_update"
	TypeSaved       = "saved"
	TypeOpAck       = "op_ack"
	TypeError       = "error"

	// 仅客户端 -> 服务端
	TypeSave      = "save"
	TypeResync    = "resync"
	TypeHeartbeat = "heartbeat"
)

// 内容类型标签：正文(markdown) / 备用格式正文(latex)
const (
	ContentMarkdown = "markdown"
	ContentLatex    = "latex"
)

// 错误码
const (
	CodeRoomUnavailable = "ROOM_UNAVAILABLE"
	CodeBadMessage      = "BAD_MESSAGE"
	CodeUnknownType     = "UNKNOWN_TYPE"
)

// Position/Anchor/Head 都是文档内的 rune 偏移量
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

type Cursor struct {
	Position  int        `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

// 一次内容变更：整篇替换，不是 diff
type Operation struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	// 客户端墙钟时间戳（毫秒），只做展示用，排序以服务端 revision 为准
	Version int64 `json:"version"`
}

type RosterEntry struct {
	SessionID     string  `json:"sessionId"`
	ParticipantID string  `json:"participantId"`
	DisplayName   string  `json:"displayName"`
	Color         string  `json:"color"`
	Cursor        *Cursor `json:"cursor,omitempty"`
}

// 客户端发来的消息（所有类型共用一个结构体，按 Type 取字段）
type ClientMessage struct {
	Type        string     `json:"type"`
	Content     *string    `json:"content,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	Version     int64      `json:"version,omitempty"`
	Position    *int       `json:"position,omitempty"`
	Selection   *Selection `json:"selection,omitempty"`
	Title       *string    `json:"title,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

type InitMessage struct {
	Type        string        `json:"type"` // 固定 "init"
	DocID       string        `json:"docId"`
	SessionID   string        `json:"sessionId"`
	Self        RosterEntry   `json:"self"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	AltContent  string        `json:"altContent"`
	Revision    uint64        `json:"revision"`
	ActiveUsers []RosterEntry `json:"activeUsers"`
}

type DocumentMessage struct {
	Type       string `json:"type"` // 固定 "document"
	DocID      string `json:"docId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AltContent string `json:"altContent"`
	Revision   uint64 `json:"revision"`
}

// 广播给房间内其他连接的内容变更
type OperationMessage struct {
	Type          string `json:"type"` // 固定 "operation"
	DocID         string `json:"docId"`
	Content       string `json:"content"`
	ContentType   string `json:"contentType"`
	Version       int64  `json:"version"`
	Revision      uint64 `json:"revision"`
	ParticipantID string `json:"participantId"`
	SessionID     string `json:"sessionId"`
}

// 只回给提交者，用来和之后的 saved 对齐
type AckMessage struct {
	Type     string `json:"type"` // 固定 "op_ack"
	Revision uint64 `json:"revision"`
	Version  int64  `json:"version"`
}

type CursorMessage struct {
	Type          string     `json:"type"` // 固定 "cursor"
	ParticipantID string     `json:"participantId"`
	SessionID     string     `json:"sessionId"`
	DisplayName   string     `json:"displayName"`
	Color         string     `json:"color"`
	Position      int        `json:"position"`
	Selection     *Selection `json:"selection,omitempty"`
}

// user_join / user_leave，每次都带完整名单
type PresenceMessage struct {
	Type        string        `json:"type"`
	User        RosterEntry   `json:"user"`
	ActiveUsers []RosterEntry `json:"activeUsers"`
}

type TitleMessage struct {
	Type          string `json:"type"` // 固定 "title_update"
	Title         string `json:"title"`
	ParticipantID string `json:"participantId"`
	SessionID     string `json:"sessionId"`
}

type SavedMessage struct {
	Type     string    `json:"type"` // 固定 "saved"
	Revision uint64    `json:"revision"`
	SavedAt  time.Time `json:"savedAt"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // 固定 "error"
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (m InitMessage) MessageType() string      { return m.Type }
func (m DocumentMessage) MessageType() string  { return m.Type }
func (m OperationMessage) MessageType() string { return m.Type }
func (m AckMessage) MessageType() string       { return m.Type }
func (m CursorMessage) MessageType() string    { return m.Type }
func (m PresenceMessage) MessageType() string  { return m.Type }
func (m TitleMessage) MessageType() string     { return m.Type }
func (m SavedMessage) MessageType() string     { return m.Type }
func (m ErrorMessage) MessageType() string     { return m.Type }

// ServerMessage：客户端解码用的并集结构，服务端发出的任意消息都能解到这里
type ServerMessage struct {
	Type          string        `json:"type"`
	DocID         string        `json:"docId,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	ParticipantID string        `json:"participantId,omitempty"`
	DisplayName   string        `json:"displayName,omitempty"`
	Color         string        `json:"color,omitempty"`
	Self          *RosterEntry  `json:"self,omitempty"`
	User          *RosterEntry  `json:"user,omitempty"`
	ActiveUsers   []RosterEntry `json:"activeUsers,omitempty"`
	Title         string        `json:"title,omitempty"`
	Content       string        `json:"content,omitempty"`
	AltContent    string        `json:"altContent,omitempty"`
	ContentType   string        `json:"contentType,omitempty"`
	Version       int64         `json:"version,omitempty"`
	Revision      uint64        `json:"revision,omitempty"`
	Position      int           `json:"position,omitempty"`
	Selection     *Selection    `json:"selection,omitempty"`
	SavedAt       time.Time     `json:"savedAt,omitempty"`
	Code          string        `json:"code,omitempty"`
	Message       string        `json:"message,omitempty"`
}
