package tracer

import (
	"encoding/json"

	"domtrace/internal/debugger"

	"github.com/chromedp/cdproto/runtime"
)

// PathEntry describes one element on the way from a match up to its ancestors.
type PathEntry struct {
	Tag     string `json:"tag"`
	Classes string `json:"classes"`
	ID      string `json:"id"`
}

// ElementMatch is an element whose visible text contains one of the markers. Path starts
// with the element itself.
type ElementMatch struct {
	Text string      `json:"text"`
	Path []PathEntry `json:"path"`
}

// Report holds what was printed for one execution context. Value is the scan result as the
// browser returned it; Matches are the elements of it that have the expected shape.
type Report struct {
	ContextID runtime.ExecutionContextID
	Href      string
	Value     json.RawMessage
	Matches   []ElementMatch
}

// Status classifies how a run ended.
type Status int

const (
	// StatusEmpty means nothing was printed and nothing failed: no target, no context on the
	// page, or no matching element.
	StatusEmpty Status = iota
	// StatusSuccess means at least one report was printed.
	StatusSuccess
	// StatusError means the run was cut short by a failure.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one run. Err is set for StatusError, and for StatusEmpty when
// target discovery failed.
type Result struct {
	Status   Status
	Err      error
	Target   *debugger.DebuggingTarget
	Contexts int
	Reports  []Report
}
