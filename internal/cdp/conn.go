// Package cdp is a minimal Chrome DevTools Protocol client: one websocket channel, a
// correlator that turns sends into awaited calls, and an accumulator of execution contexts
// built from the event stream of the same channel.
package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the channel uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Dial opens the websocket of a debugging target.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		dialer.HandshakeTimeout = handshakeTimeout
	}
	dialer.ReadBufferSize = 64 << 10

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket connection error: %w", err)
	}
	return conn, nil
}
