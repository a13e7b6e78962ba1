package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/nova/internal/model/task"
	"github.com/zhouzirui/nova/internal/service/taskchannel"
)

// WebSocketTransport streams task progress over a WebSocket.
type WebSocketTransport struct {
	client *Client
	dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport sharing c's credentials.
func NewWebSocketTransport(c *Client) *WebSocketTransport {
	return &WebSocketTransport{
		client: c,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (t *WebSocketTransport) Subscribe(ctx context.Context, taskID string) (taskchannel.Stream, error) {
	u := *t.client.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/api/task-progress/" + url.PathEscape(taskID) + "/ws"

	header := make(http.Header)
	t.client.authorize(header)

	conn, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if statusErr := t.client.checkStatus(resp); statusErr != nil {
				return nil, statusErr
			}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsStream) Next() (task.Frame, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return task.Frame{}, io.EOF
			}
			return task.Frame{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var frame task.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return task.Frame{}, fmt.Errorf("decode progress frame: %w", err)
		}
		return frame, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}
