package types

import "time"

// Mode is the searcher lifecycle state
type Mode string

const (
	ModeUninitialized Mode = "UNINITIALIZED"
	ModeInitializing  Mode = "INITIALIZING"
	ModeAIReady       Mode = "AI_READY"
	ModeBasic         Mode = "BASIC_MODE"
)

// Ready reports whether queries are accepted in this mode
func (m Mode) Ready() bool {
	return m == ModeAIReady || m == ModeBasic
}

// StatusEvent is published whenever the searcher changes mode
type StatusEvent struct {
	Mode   Mode      `json:"mode"`
	Reason string    `json:"reason,omitempty"` // Set for BASIC_MODE
	Model  string    `json:"model,omitempty"`  // Set for AI_READY
	At     time.Time `json:"at"`
}

// String renders the event the way the status badge shows it
func (e StatusEvent) String() string {
	if e.Reason != "" {
		return string(e.Mode) + "(" + e.Reason + ")"
	}
	return string(e.Mode)
}
