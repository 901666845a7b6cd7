// Package editor builds invocations of the auto_editor tool and decides
// where their output files go.
package editor

import (
	"path/filepath"

	"github.com/autoedit/autoedit-agent/internal/export"
)

const (
	// ToolName is the program token and the marker that suppresses the
	// _edited suffix on already-processed files.
	ToolName = "auto_editor"

	DefaultLoudnessDB    = -19
	DefaultMarginSeconds = 0

	// PlaceholderInput is shown in command previews when nothing is selected.
	PlaceholderInput = "example.mp4"
)

// EditParameters is the per-call tool configuration.
type EditParameters struct {
	LoudnessDB     float64       `json:"loudness_db"`
	MarginSeconds  float64       `json:"margin_seconds"`
	ExportFormat   export.Format `json:"export_format"`
	StatsRequested bool          `json:"stats"`
}

// DefaultParameters mirrors the values the tool itself suggests.
func DefaultParameters() EditParameters {
	return EditParameters{
		LoudnessDB:    DefaultLoudnessDB,
		MarginSeconds: DefaultMarginSeconds,
		ExportFormat:  export.DefaultFormat,
	}
}

// WithStats returns a copy with the stats flag forced on.
func (p EditParameters) WithStats() EditParameters {
	p.StatsRequested = true
	return p
}

// FileRef is one user-selected input.
type FileRef struct {
	DisplayName  string `json:"display_name"`
	AbsolutePath string `json:"path"`
}

// NewFileRef derives the display name from the path.
func NewFileRef(path string) FileRef {
	return FileRef{DisplayName: filepath.Base(path), AbsolutePath: path}
}

// Name returns DisplayName, falling back to the path's base name.
func (f FileRef) Name() string {
	if f.DisplayName != "" {
		return f.DisplayName
	}
	return filepath.Base(f.AbsolutePath)
}
