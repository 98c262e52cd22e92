package cdp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto"
	"go.uber.org/zap"
)

// Correlator turns the channel's fire-and-forget sends into awaited calls. Every call owns a
// single-shot resolver registered under its identifier; a response resolves and removes the
// resolver with the same identifier, whatever order responses arrive in.
type Correlator struct {
	ch     *Channel
	logger *zap.Logger

	mu      sync.Mutex
	pending map[int64]chan *Message

	unsubscribe func()
}

// NewCorrelator attaches a correlator to ch.
func NewCorrelator(ch *Channel) *Correlator {
	r := &Correlator{
		ch:      ch,
		logger:  ch.logger.Named("rpc"),
		pending: make(map[int64]chan *Message),
	}
	r.unsubscribe = ch.Subscribe(r.observe)
	return r
}

// Call sends method with params and blocks until the matching response arrives, ctx is done,
// or the channel closes. The returned message is the full response envelope; a protocol
// error in it is not turned into a Go error here, see Message.Unmarshal.
//
// Without a deadline on ctx a call whose response never arrives blocks for as long as the
// channel stays open.
func (r *Correlator) Call(ctx context.Context, method cdproto.MethodType, params any) (*Message, error) {
	id := r.ch.NextID()
	resolve := make(chan *Message, 1)

	// Register before writing: the response may be read before SendWithID returns.
	r.mu.Lock()
	r.pending[id] = resolve
	r.mu.Unlock()

	if err := r.ch.SendWithID(id, method, params); err != nil {
		r.forget(id)
		return nil, err
	}

	select {
	case msg := <-resolve:
		return msg, nil
	case <-ctx.Done():
		r.forget(id)
		r.logger.Debug("Call abandoned", zap.Int64("id", id), zap.String("method", string(method)), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	case <-r.ch.Done():
		r.forget(id)
		// A response that raced the shutdown still wins.
		select {
		case msg := <-resolve:
			return msg, nil
		default:
		}
		return nil, r.ch.closedErr()
	}
}

// Pending returns the number of calls awaiting a response.
func (r *Correlator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close detaches the correlator from its channel. Calls still in flight stay blocked until
// their context or the channel ends.
func (r *Correlator) Close() {
	r.unsubscribe()
}

func (r *Correlator) observe(msg *Message) {
	if !msg.IsResponse() {
		return
	}

	r.mu.Lock()
	resolve, ok := r.pending[msg.ID]
	if ok {
		delete(r.pending, msg.ID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("Response without pending call", zap.Int64("id", msg.ID))
		return
	}
	resolve <- msg
}

func (r *Correlator) forget(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}
