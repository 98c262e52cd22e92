package cdp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxLoggedFrame caps how much of a frame ends up in a log line.
const maxLoggedFrame = 512

// Observer receives every decoded inbound frame. Observers run on the channel's reader
// goroutine, one frame at a time, in subscription order, and must not block.
type Observer func(msg *Message)

type subscription struct {
	id int
	fn Observer
}

// Channel is a single bidirectional connection to a debugging target. It numbers outgoing
// calls and fans every inbound frame out to its observers; it does not interpret them.
type Channel struct {
	conn   Conn
	logger *zap.Logger

	lastID atomic.Int64

	writeMu sync.Mutex

	subMu     sync.Mutex
	subs      []subscription
	nextSubID int

	startOnce  sync.Once
	readerDone chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	err       error
	closeErr  error
}

// NewChannel wraps an open connection. Reading starts with Start or with the first Send, so
// observers subscribed before then see every frame.
func NewChannel(conn Conn, logger *zap.Logger) *Channel {
	return &Channel{
		conn:       conn,
		logger:     logger.Named("cdp"),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the reader goroutine. It is safe to call more than once.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		select {
		case <-c.done:
			close(c.readerDone)
			return
		default:
		}
		go c.readLoop()
	})
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Channel) Subscribe(fn Observer) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// NextID reserves the next call identifier. Identifiers start at 1 and are never reused.
func (c *Channel) NextID() int64 {
	return c.lastID.Add(1)
}

// Send transmits a call envelope under a fresh identifier and returns that identifier.
func (c *Channel) Send(method cdproto.MethodType, params any) (int64, error) {
	id := c.NextID()
	return id, c.SendWithID(id, method, params)
}

// SendWithID transmits a call envelope under an identifier obtained from NextID. A nil params
// value is sent as an empty object.
func (c *Channel) SendWithID(id int64, method cdproto.MethodType, params any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return fmt.Errorf("cdp: encoding params of %s: %w", method, err)
	}
	data, err := json.Marshal(&Message{ID: id, Method: method, Params: raw})
	if err != nil {
		return fmt.Errorf("cdp: encoding call %d: %w", id, err)
	}

	select {
	case <-c.done:
		return c.closedErr()
	default:
	}
	c.Start()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("cdp: writing call %d (%s): %w", id, method, err)
	}
	c.logger.Debug("Sent call", zap.Int64("id", id), zap.String("method", string(method)))
	return nil
}

// Done is closed once the channel stops delivering frames.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel stopped, or nil while it is open.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close terminates the connection and waits for the reader to exit. It is idempotent.
func (c *Channel) Close() error {
	c.shutdown(ErrClosed)
	// Settles readerDone when the reader never started.
	c.startOnce.Do(func() { close(c.readerDone) })
	<-c.readerDone
	return c.closeErr
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.err = cause
		close(c.done)
		c.closeErr = c.conn.Close()
	})
}

func (c *Channel) closedErr() error {
	if c.err == nil || errors.Is(c.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, c.err)
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("Channel read ended", zap.Error(err))
			}
			c.shutdown(fmt.Errorf("cdp: read: %w", err))
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error("Malformed frame, closing channel",
				zap.Error(err),
				zap.ByteString("frame", truncate(data)))
			c.shutdown(fmt.Errorf("%w: %w", ErrDecode, err))
			return
		}
		c.dispatch(&msg)
	}
}

func (c *Channel) dispatch(msg *Message) {
	c.subMu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		s.fn(msg)
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	return raw, nil
}

func truncate(b []byte) []byte {
	if len(b) > maxLoggedFrame {
		return b[:maxLoggedFrame]
	}
	return b
}
