package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"domtrace/internal/devtoolstest"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingConn blocks reads until it is closed.
type blockingConn struct {
	once   sync.Once
	closed chan struct{}
}

func newBlockingConn() *blockingConn {
	return &blockingConn{closed: make(chan struct{})}
}

func (b *blockingConn) ReadMessage() (int, []byte, error) {
	<-b.closed
	return 0, nil, errors.New("use of closed connection")
}

func (b *blockingConn) WriteMessage(int, []byte) error { return nil }

func (b *blockingConn) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestChannel_SendRoundTripsParams(t *testing.T) {
	received := make(chan devtoolstest.Call, 1)
	ch := connect(t, func(pc *devtoolstest.PeerConn) {
		call, err := pc.ReadCall()
		if err != nil {
			return
		}
		received <- call
	})

	params := map[string]any{
		"expression": "document.title",
		"contextId":  float64(3),
		"nested": map[string]any{
			"list":  []any{"a", float64(2), true, nil},
			"empty": map[string]any{},
		},
	}
	id, err := ch.Send("Runtime.evaluate", params)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	select {
	case call := <-received:
		assert.Equal(t, id, call.ID)
		assert.Equal(t, "Runtime.evaluate", call.Method)

		var got map[string]any
		require.NoError(t, json.Unmarshal(call.Params, &got))
		if diff := cmp.Diff(params, got); diff != "" {
			t.Errorf("params changed in transit (-sent +received):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the call")
	}
}

func TestChannel_SendsProtocolParamTypes(t *testing.T) {
	received := make(chan devtoolstest.Call, 2)
	ch := connect(t, func(pc *devtoolstest.PeerConn) {
		for i := 0; i < 2; i++ {
			call, err := pc.ReadCall()
			if err != nil {
				return
			}
			received <- call
		}
	})

	_, err := ch.Send(runtime.CommandEnable, nil)
	require.NoError(t, err)
	_, err = ch.Send(runtime.CommandEvaluate, runtime.Evaluate("window.location.href").WithContextID(4).WithReturnByValue(true))
	require.NoError(t, err)

	enable := <-received
	assert.Equal(t, int64(1), enable.ID)
	assert.JSONEq(t, `{}`, string(enable.Params), "nil params travel as an empty object")

	eval := <-received
	assert.Equal(t, int64(2), eval.ID)
	var p devtoolstest.EvaluateParams
	require.NoError(t, json.Unmarshal(eval.Params, &p))
	assert.Equal(t, devtoolstest.EvaluateParams{
		Expression:    "window.location.href",
		ContextID:     4,
		ReturnByValue: true,
	}, p)
}

func TestChannel_IdentifiersAreNeverReused(t *testing.T) {
	ch := connect(t, func(pc *devtoolstest.PeerConn) {})

	seen := make(map[int64]bool)
	var last int64
	for i := 0; i < 100; i++ {
		id := ch.NextID()
		assert.False(t, seen[id], "id %d handed out twice", id)
		assert.Greater(t, id, last)
		seen[id] = true
		last = id
	}
}

func TestChannel_ObserversSeeEveryFrameInOrder(t *testing.T) {
	ch := connect(t, func(pc *devtoolstest.PeerConn) {
		_ = pc.Emit("Page.frameNavigated", map[string]any{})
		_ = pc.Reply(41, map[string]any{})
		_ = pc.Emit("Runtime.executionContextsCleared", map[string]any{})
	})

	frames := make(chan *Message, 3)
	ch.Subscribe(func(msg *Message) { frames <- msg })
	second := make(chan *Message, 3)
	unsubscribe := ch.Subscribe(func(msg *Message) { second <- msg })
	unsubscribe()
	ch.Start()

	var got []*Message
	for i := 0; i < 3; i++ {
		select {
		case msg := <-frames:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d frames delivered", len(got))
		}
	}

	assert.True(t, got[0].IsEvent())
	assert.Equal(t, "Page.frameNavigated", string(got[0].Method))
	assert.True(t, got[1].IsResponse())
	assert.Equal(t, int64(41), got[1].ID)
	assert.Equal(t, "Runtime.executionContextsCleared", string(got[2].Method))
	assert.Empty(t, second, "unsubscribed observer must not be called")
}

func TestChannel_MalformedFrameIsFatal(t *testing.T) {
	ch := connect(t, func(pc *devtoolstest.PeerConn) {
		if _, err := pc.ReadCall(); err != nil {
			return
		}
		_ = pc.WriteRaw([]byte("<html>not json</html>"))
	})
	rpc := NewCorrelator(ch)

	_, err := rpc.Call(context.Background(), runtime.CommandEnable, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, ErrDecode)

	<-ch.Done()
	assert.ErrorIs(t, ch.Err(), ErrDecode)
	assert.Zero(t, rpc.Pending())

	_, err = ch.Send(runtime.CommandEnable, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	ch := connect(t, func(pc *devtoolstest.PeerConn) {})
	ch.Start()

	assert.NoError(t, ch.Err())
	_ = ch.Close()
	assert.NotPanics(t, func() { _ = ch.Close() })
	assert.True(t, errors.Is(ch.Err(), ErrClosed))

	select {
	case <-ch.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestChannel_CloseBeforeStart(t *testing.T) {
	ch := connect(t, func(pc *devtoolstest.PeerConn) {})

	_ = ch.Close()
	ch.Start()

	_, err := ch.Send(runtime.CommandEnable, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_CloseWaitsForReaderStartedConcurrently(t *testing.T) {
	logger := zaptest.NewLogger(t)
	for i := 0; i < 200; i++ {
		ch := NewChannel(newBlockingConn(), logger)

		started := make(chan struct{})
		go func() {
			defer close(started)
			ch.Start()
		}()
		_ = ch.Close()

		select {
		case <-ch.readerDone:
		default:
			t.Fatalf("iteration %d: reader still running after Close", i)
		}
		<-started
	}
}

func TestMessage_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		isResponse bool
		isEvent    bool
	}{
		{"response", `{"id":3,"result":{}}`, true, false},
		{"error response", `{"id":3,"error":{"code":-32000,"message":"x"}}`, true, false},
		{"event", `{"method":"Runtime.executionContextCreated","params":{}}`, false, true},
		{"neither", `{}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			require.NoError(t, json.Unmarshal([]byte(tt.frame), &m))
			assert.Equal(t, tt.isResponse, m.IsResponse())
			assert.Equal(t, tt.isEvent, m.IsEvent())
		})
	}
}

func TestMessage_Unmarshal(t *testing.T) {
	ok := Message{ID: 1, Result: json.RawMessage(`{"result":{"type":"string","value":"https://x.test/"}}`)}
	var ret runtime.EvaluateReturns
	require.NoError(t, ok.Unmarshal(&ret))
	require.NotNil(t, ret.Result)
	var href string
	require.NoError(t, json.Unmarshal([]byte(ret.Result.Value), &href))
	assert.Equal(t, "https://x.test/", href)

	failed := Message{ID: 2, Error: &ProtocolError{Code: -32000, Message: "Cannot find context with specified id"}}
	err := failed.Unmarshal(&ret)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, int64(-32000), perr.Code)
	assert.Equal(t, "cdp: Cannot find context with specified id (-32000)", err.Error())

	empty := Message{ID: 3}
	assert.Error(t, empty.Unmarshal(&ret))
}
