// Package devtoolstest serves a scripted stand-in for a browser's remote-debugging endpoint:
// a target listing over HTTP and a websocket peer that reads calls and writes responses and
// events on command.
package devtoolstest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Call is an envelope received by the peer.
type Call struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Script drives one accepted websocket connection. It returns when the scenario is done; the
// connection is closed afterwards.
type Script func(pc *PeerConn)

// Peer is a websocket server running one Script per connection.
type Peer struct {
	t        testing.TB
	server   *httptest.Server
	upgrader websocket.Upgrader
	script   Script
	wg       sync.WaitGroup
}

// NewPeer starts a peer. It is shut down by t.Cleanup.
func NewPeer(t testing.TB, script Script) *Peer {
	t.Helper()
	p := &Peer{
		t:      t,
		script: script,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.Close)
	return p
}

// URL is the ws:// address of the peer.
func (p *Peer) URL() string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http")
}

// Close stops the server and waits for running scripts.
func (p *Peer) Close() {
	p.server.Close()
	p.wg.Wait()
}

func (p *Peer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("devtoolstest: upgrade failed: %v", err)
		return
	}
	p.wg.Add(1)
	defer p.wg.Done()
	defer conn.Close()

	pc := &PeerConn{conn: conn}
	p.script(pc)
	pc.drain()
}

// PeerConn is the browser side of one connection.
type PeerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ReadCall blocks for the next call envelope, up to five seconds.
func (pc *PeerConn) ReadCall() (Call, error) {
	var call Call
	if err := pc.conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return call, err
	}
	_, data, err := pc.conn.ReadMessage()
	if err != nil {
		return call, err
	}
	if err := json.Unmarshal(data, &call); err != nil {
		return call, fmt.Errorf("devtoolstest: bad call frame %q: %w", data, err)
	}
	return call, nil
}

// Reply answers call id with result.
func (pc *PeerConn) Reply(id int64, result any) error {
	return pc.writeJSON(map[string]any{"id": id, "result": result})
}

// ReplyError answers call id with a protocol error.
func (pc *PeerConn) ReplyError(id int64, code int64, message string) error {
	return pc.writeJSON(map[string]any{
		"id":    id,
		"error": map[string]any{"code": code, "message": message},
	})
}

// Emit sends an event notification.
func (pc *PeerConn) Emit(method string, params any) error {
	return pc.writeJSON(map[string]any{"method": method, "params": params})
}

// EmitContextCreated announces an execution context.
func (pc *PeerConn) EmitContextCreated(id int64, origin, name string) error {
	return pc.Emit("Runtime.executionContextCreated", map[string]any{
		"context": map[string]any{
			"id":       id,
			"origin":   origin,
			"name":     name,
			"uniqueId": fmt.Sprintf("ctx-%d", id),
			"auxData":  map[string]any{"isDefault": true, "type": "default", "frameId": "F1"},
		},
	})
}

// Hangup drops the connection without a close handshake.
func (pc *PeerConn) Hangup() error {
	return pc.conn.Close()
}

// WriteRaw sends a frame as is.
func (pc *PeerConn) WriteRaw(data []byte) error {
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()
	return pc.conn.WriteMessage(websocket.TextMessage, data)
}

// writeJSON leaves &, < and > unescaped, as browsers do.
func (pc *PeerConn) writeJSON(v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return pc.WriteRaw(buf.Bytes())
}

// drain keeps reading until the client goes away, so the client decides when the connection
// ends.
func (pc *PeerConn) drain() {
	_ = pc.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := pc.conn.ReadMessage(); err != nil {
			return
		}
	}
}
