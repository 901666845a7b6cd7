package api

import (
	"time"

	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
	"github.com/autoedit/autoedit-agent/internal/stats"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string              `json:"state"`
	ActiveBatchID string              `json:"active_batch_id,omitempty"`
	LastMessage   string              `json:"last_message,omitempty"`
	LastSeverity  string              `json:"last_severity,omitempty"`
	Pending       int                 `json:"pending"`
	Tool          *ToolStatusResponse `json:"tool,omitempty"`
}

type ToolStatusResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Launcher    string `json:"launcher,omitempty"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type FormatsResponse struct {
	Default export.Format       `json:"default"`
	Formats []export.FormatInfo `json:"formats"`
}

// ParamsRequest carries optional edit parameters. Omitted fields take the
// agent's configured defaults.
type ParamsRequest struct {
	LoudnessDB    *float64 `json:"loudness_db,omitempty"`
	MarginSeconds *float64 `json:"margin_seconds,omitempty"`
	ExportFormat  string   `json:"export_format,omitempty"`
	Stats         *bool    `json:"stats,omitempty"`
}

func (p ParamsRequest) resolve(defaults editor.EditParameters) (editor.EditParameters, error) {
	out := defaults
	if p.LoudnessDB != nil {
		out.LoudnessDB = *p.LoudnessDB
	}
	if p.MarginSeconds != nil {
		out.MarginSeconds = *p.MarginSeconds
	}
	if p.ExportFormat != "" {
		f, err := export.ParseFormat(p.ExportFormat)
		if err != nil {
			return out, err
		}
		out.ExportFormat = f
	}
	if p.Stats != nil {
		out.StatsRequested = *p.Stats
	}
	return out, nil
}

type CommandRequest struct {
	Files  []string      `json:"files"`
	Params ParamsRequest `json:"params"`
}

type CommandResponse struct {
	Command string `json:"command"`
}

type PreviewRequest struct {
	Files  []string      `json:"files"`
	Params ParamsRequest `json:"params"`
}

type PreviewResponse struct {
	Message string          `json:"message"`
	Stats   stats.FileStats `json:"stats"`
}

type SubmitBatchRequest struct {
	Files     []string      `json:"files"`
	Params    ParamsRequest `json:"params"`
	OutputDir string        `json:"output_dir,omitempty"`
	Import    bool          `json:"import,omitempty"`
}

type SubmitBatchResponse struct {
	BatchID string `json:"batch_id"`
	State   string `json:"state"`
}

type CancelResponse struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

type BatchResponse struct {
	ID           string                `json:"id"`
	State        string                `json:"state"`
	Source       string                `json:"source"`
	Params       editor.EditParameters `json:"params"`
	OutputDir    string                `json:"output_dir"`
	Total        int                   `json:"total"`
	Current      int                   `json:"current"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	Message      string                `json:"message,omitempty"`
	Files        []batch.FileOutcome   `json:"files"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
	StartedAt    string                `json:"started_at,omitempty"`
	FinishedAt   string                `json:"finished_at,omitempty"`
}

type BatchesResponse struct {
	Batches []BatchResponse `json:"batches"`
}

type OutputDirResponse struct {
	OutputDir string `json:"output_dir"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func BatchToResponse(b *batch.Batch) BatchResponse {
	resp := BatchResponse{
		ID:           b.ID,
		State:        string(b.State),
		Source:       b.Source,
		Params:       b.Params,
		OutputDir:    b.OutputDir,
		Total:        b.Total,
		Current:      b.Current,
		SuccessCount: b.SuccessCount,
		FailureCount: b.FailureCount,
		Message:      b.Message,
		Files:        b.Files,
		CreatedAt:    b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    b.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Files == nil {
		resp.Files = []batch.FileOutcome{}
	}
	if b.StartedAt != nil {
		resp.StartedAt = b.StartedAt.Format(time.RFC3339)
	}
	if b.FinishedAt != nil {
		resp.FinishedAt = b.FinishedAt.Format(time.RFC3339)
	}
	return resp
}
