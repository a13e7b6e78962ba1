package client

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/nova/internal/service/taskchannel"
)

// Transport names accepted by NewTransport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "ws"
)

// NewTransport returns the progress transport called kind.
func NewTransport(c *Client, kind string) (taskchannel.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", TransportSSE:
		return NewSSETransport(c), nil
	case TransportWebSocket, "websocket":
		return NewWebSocketTransport(c), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}
