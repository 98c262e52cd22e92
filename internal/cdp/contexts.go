package cdp

import (
	"encoding/json"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
)

// ContextAccumulator records every execution context the browser announces, in arrival
// order. Destroyed contexts are not removed and repeats are not merged.
type ContextAccumulator struct {
	logger *zap.Logger

	mu       sync.Mutex
	contexts []*runtime.ExecutionContextDescription

	unsubscribe func()
}

// NewContextAccumulator subscribes to ch. Create it before enabling the Runtime domain, or
// the announcements of already existing contexts are lost.
func NewContextAccumulator(ch *Channel) *ContextAccumulator {
	a := &ContextAccumulator{logger: ch.logger.Named("contexts")}
	a.unsubscribe = ch.Subscribe(a.observe)
	return a
}

// Contexts returns a copy of the contexts seen so far.
func (a *ContextAccumulator) Contexts() []*runtime.ExecutionContextDescription {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*runtime.ExecutionContextDescription, len(a.contexts))
	copy(out, a.contexts)
	return out
}

// Len returns how many contexts have been seen.
func (a *ContextAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.contexts)
}

// Close stops accumulating.
func (a *ContextAccumulator) Close() {
	a.unsubscribe()
}

func (a *ContextAccumulator) observe(msg *Message) {
	if !msg.IsEvent() || msg.Method != cdproto.EventRuntimeExecutionContextCreated {
		return
	}

	var ev runtime.EventExecutionContextCreated
	if err := json.Unmarshal(msg.Params, &ev); err != nil || ev.Context == nil {
		a.logger.Debug("Skipping unreadable context announcement", zap.Error(err), zap.ByteString("params", truncate(msg.Params)))
		return
	}

	a.mu.Lock()
	a.contexts = append(a.contexts, ev.Context)
	a.mu.Unlock()
	a.logger.Debug("Execution context created",
		zap.Int64("context_id", int64(ev.Context.ID)),
		zap.String("origin", ev.Context.Origin),
		zap.String("name", ev.Context.Name))
}
