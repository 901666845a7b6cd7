// Package batch drives the editing tool over ordered sets of files and keeps
// a persisted queue of submitted batches.
package batch

import (
	"errors"
	"time"

	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/stats"
)

var (
	ErrNoInput         = errors.New("no files selected")
	ErrBusy            = errors.New("a batch is already running")
	ErrBatchNotFound   = errors.New("batch not found")
	ErrNotCancellable  = errors.New("batch already finished")
	ErrInvalidFile     = errors.New("invalid input file")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPreviewFailed   = errors.New("preview failed")
	ErrPreviewCanceled = errors.New("preview cancelled")
)

// State is the lifecycle of a batch. Pending and Failed only occur for
// queued batches; Failed marks a batch interrupted by an agent restart.
type State string

const (
	StateIdle               State = "idle"
	StatePending            State = "pending"
	StateRunning            State = "running"
	StateCompleted          State = "completed"
	StatePartiallyFailed    State = "partially_failed"
	StateEmptyInputRejected State = "empty_input_rejected"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyFailed, StateEmptyInputRejected, StateCancelled, StateFailed:
		return true
	}
	return false
}

type FileStatus string

const (
	FileStatusPending   FileStatus = "pending"
	FileStatusRunning   FileStatus = "running"
	FileStatusSucceeded FileStatus = "succeeded"
	FileStatusFailed    FileStatus = "failed"
	FileStatusCancelled FileStatus = "cancelled"
)

// Severity classifies a progress message for display.
type Severity string

const (
	SeverityNormal  Severity = "normal"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Batch sources recorded with persisted batches.
const (
	SourceAPI     = "api"
	SourceWatcher = "watcher"
	SourceCLI     = "cli"
)

// FileOutcome is the per-file record of a batch run.
type FileOutcome struct {
	Index      int              `json:"index"`
	Name       string           `json:"name"`
	Path       string           `json:"path"`
	Status     FileStatus       `json:"status"`
	OutputPath string           `json:"output_path,omitempty"`
	ExitCode   *int             `json:"exit_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	OutputTail string           `json:"output_tail,omitempty"`
	Stats      *stats.FileStats `json:"stats,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

// Result is what a batch run reports when it ends.
type Result struct {
	BatchID      string            `json:"batch_id,omitempty"`
	State        State             `json:"state"`
	Total        int               `json:"total"`
	Attempted    int               `json:"attempted"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Stats        []stats.FileStats `json:"stats"`
	Files        []FileOutcome     `json:"files"`
	Message      string            `json:"message"`
}

// Batch is a persisted queue entry.
type Batch struct {
	ID           string                `json:"id"`
	State        State                 `json:"state"`
	Source       string                `json:"source"`
	Params       editor.EditParameters `json:"params"`
	OutputDir    string                `json:"output_dir"`
	Total        int                   `json:"total"`
	Current      int                   `json:"current"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Message      string                `json:"message,omitempty"`
	Files        []FileOutcome         `json:"files,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
}

// FileRefs returns the batch inputs in processing order.
func (b *Batch) FileRefs() []editor.FileRef {
	refs := make([]editor.FileRef, len(b.Files))
	for i, f := range b.Files {
		refs[i] = editor.FileRef{DisplayName: f.Name, AbsolutePath: f.Path}
	}
	return refs
}
