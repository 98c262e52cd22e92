package cdp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
)

var (
	// ErrClosed is returned by calls that cannot complete because the channel is gone.
	ErrClosed = errors.New("cdp: channel closed")
	// ErrDecode marks an inbound frame that is not a JSON envelope. It is fatal to the channel.
	ErrDecode = errors.New("cdp: malformed inbound frame")
)

// Message is the envelope of every frame on the channel. Calls carry ID, Method and Params;
// responses carry ID and Result or Error; events carry Method and Params.
type Message struct {
	ID     int64              `json:"id,omitempty"`
	Method cdproto.MethodType `json:"method,omitempty"`
	Params json.RawMessage    `json:"params,omitempty"`
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *ProtocolError     `json:"error,omitempty"`
}

// IsResponse reports whether m answers a call.
func (m *Message) IsResponse() bool {
	return m.ID != 0 && m.Method == ""
}

// IsEvent reports whether m is an unsolicited notification.
func (m *Message) IsEvent() bool {
	return m.ID == 0 && m.Method != ""
}

// Unmarshal decodes the result payload of a response into v. A response carrying an error
// envelope returns that error instead.
func (m *Message) Unmarshal(v any) error {
	if m.Error != nil {
		return m.Error
	}
	if len(m.Result) == 0 {
		return fmt.Errorf("cdp: response %d has no result", m.ID)
	}
	if err := json.Unmarshal(m.Result, v); err != nil {
		return fmt.Errorf("cdp: decoding result of call %d: %w", m.ID, err)
	}
	return nil
}

// ProtocolError is the error envelope the browser returns for a failed call. Data is kept
// raw since its shape varies by method.
type ProtocolError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Sprintf("cdp: %s (%d)", e.Message, e.Code)
	}
	var data string
	if err := json.Unmarshal(e.Data, &data); err != nil {
		data = string(e.Data)
	}
	return fmt.Sprintf("cdp: %s (%d): %s", e.Message, e.Code, data)
}
