package devtoolstest

import (
	"encoding/json"
	"sync"
	"testing"
)

// Page is one execution context of the fake browser.
type Page struct {
	ContextID int64
	Href      string
	// Scan is returned by value for any expression other than the href probe. Use a
	// json.RawMessage to control key order.
	Scan any
	// ScanException makes the scan report a thrown exception instead of a value.
	ScanException bool
}

// Browser is a Peer that answers Runtime.enable and Runtime.evaluate like a page would.
type Browser struct {
	*Peer
	pages []Page

	mu    sync.Mutex
	calls []Call
}

// NewBrowser starts a fake browser with the given contexts.
func NewBrowser(t testing.TB, pages []Page) *Browser {
	b := &Browser{pages: pages}
	b.Peer = NewPeer(t, b.serve)
	return b
}

// Calls returns every call received, in order.
func (b *Browser) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Evaluations returns the decoded Runtime.evaluate params received.
func (b *Browser) Evaluations() []EvaluateParams {
	var out []EvaluateParams
	for _, c := range b.Calls() {
		if c.Method != "Runtime.evaluate" {
			continue
		}
		var p EvaluateParams
		if err := json.Unmarshal(c.Params, &p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// EvaluateParams is the part of Runtime.evaluate the fake inspects.
type EvaluateParams struct {
	Expression    string `json:"expression"`
	ContextID     int64  `json:"contextId"`
	ReturnByValue bool   `json:"returnByValue"`
}

func (b *Browser) serve(pc *PeerConn) {
	for {
		call, err := pc.ReadCall()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.calls = append(b.calls, call)
		b.mu.Unlock()

		switch call.Method {
		case "Runtime.enable":
			for _, p := range b.pages {
				if err := pc.EmitContextCreated(p.ContextID, "https://app.test", ""); err != nil {
					return
				}
			}
			err = pc.Reply(call.ID, map[string]any{})
		case "Runtime.evaluate":
			err = b.evaluate(pc, call)
		default:
			err = pc.ReplyError(call.ID, -32601, "'"+call.Method+"' wasn't found")
		}
		if err != nil {
			return
		}
	}
}

func (b *Browser) evaluate(pc *PeerConn, call Call) error {
	var params EvaluateParams
	if err := json.Unmarshal(call.Params, &params); err != nil {
		return pc.ReplyError(call.ID, -32602, "Invalid parameters")
	}

	var page *Page
	for i := range b.pages {
		if b.pages[i].ContextID == params.ContextID {
			page = &b.pages[i]
			break
		}
	}
	if page == nil {
		return pc.ReplyError(call.ID, -32000, "Cannot find context with specified id")
	}

	if params.Expression == "window.location.href" {
		return pc.Reply(call.ID, map[string]any{
			"result": map[string]any{"type": "string", "value": page.Href},
		})
	}
	if page.ScanException {
		return pc.Reply(call.ID, map[string]any{
			"result": map[string]any{"type": "object", "subtype": "error", "description": "TypeError: boom"},
			"exceptionDetails": map[string]any{
				"exceptionId": 1, "text": "Uncaught", "lineNumber": 0, "columnNumber": 0,
			},
		})
	}
	return pc.Reply(call.ID, map[string]any{
		"result": map[string]any{"type": "object", "value": page.Scan},
	})
}
