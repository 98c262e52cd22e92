package debugger

import "errors"

// ErrNoTarget is returned when the listing holds no target accepted by the matcher.
var ErrNoTarget = errors.New("no matching debugging target")

// DebuggingTarget represents one entry of the browser's target listing
type DebuggingTarget struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerUrl string `json:"webSocketDebuggerUrl"`
}
