package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"draftCollab/backend/internal/protocol"
)

// WSDialer 拨 /collab/ws?docId=...，token 同时放在 Header 和 query 里
type WSDialer struct {
	BaseURL string // 例如 ws://localhost:8082
	DocID   string
	Token   string
	Dialer  *websocket.Dialer
}

func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/collab/ws"
	q := u.Query()
	q.Set("docId", d.DocID)
	if d.Token != "" {
		q.Set("token", d.Token)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Host+u.Path, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host+u.Path, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(msg protocol.ClientMessage) error {
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Recv() (protocol.ServerMessage, error) {
	var msg protocol.ServerMessage
	err := t.conn.ReadJSON(&msg)
	return msg, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
