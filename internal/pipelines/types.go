// Package pipelines runs the auto_editor tool as a subprocess and probes
// whether it is installed.
package pipelines

import (
	"strconv"
	"strings"
	"time"
)

// SuccessMarker is appended to the captured output of a run that exits 0.
// Callers detect success by looking for it.
const SuccessMarker = "Process completed successfully with code 0"

// Outcome is the terminal state of one tool run. Exactly one of these holds:
// LaunchErr != nil, Cancelled, or ExitCode != nil.
type Outcome struct {
	ExitCode  *int          `json:"exit_code,omitempty"`
	Output    string        `json:"-"`
	LaunchErr error         `json:"-"`
	Cancelled bool          `json:"cancelled,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the captured output carries the success marker.
func (o Outcome) Succeeded() bool {
	return strings.Contains(o.Output, SuccessMarker)
}

// Describe is a one-line summary used in progress messages and the store.
func (o Outcome) Describe() string {
	switch {
	case o.Cancelled:
		return "cancelled"
	case o.LaunchErr != nil:
		return "launch failed: " + o.LaunchErr.Error()
	case o.TimedOut:
		return "timed out"
	case o.ExitCode == nil:
		return "no exit status"
	case *o.ExitCode == 0:
		return "exited 0"
	default:
		return "Process failed with code " + strconv.Itoa(*o.ExitCode)
	}
}

// Tail returns the last maxLen bytes of the output.
func (o Outcome) Tail(maxLen int) string {
	return truncate(o.Output, maxLen)
}

// Capabilities is what a probe learned about the installed tool.
type Capabilities struct {
	Available   bool      `json:"available"`
	ToolVersion string    `json:"tool_version,omitempty"`
	Launcher    string    `json:"launcher"`
	Python      string    `json:"python,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProbedAt    time.Time `json:"probed_at"`
}
