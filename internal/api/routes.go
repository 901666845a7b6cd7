package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/config"
	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
)

const defaultListLimit = 50

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LocalOnly(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Get("/formats", formatsHandler())
	r.Get("/output-dir", outputDirHandler(cfg))

	r.Post("/command", commandHandler(cfg))
	r.Post("/preview", previewHandler(cfg))

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", submitBatchHandler(cfg))
		r.Get("/", listBatchesHandler(cfg))
		r.Get("/{id}", getBatchHandler(cfg))
		r.Post("/{id}/cancel", cancelBatchHandler(cfg))
		r.Get("/{id}/files/{index}/output", outputHandler(cfg))
		r.Head("/{id}/files/{index}/output", outputHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{State: string(batch.QueueIdle)}

		if cfg.Queue != nil {
			qs := cfg.Queue.Status(r.Context())
			resp.State = string(qs.State)
			resp.ActiveBatchID = qs.ActiveBatchID
			resp.LastMessage = qs.LastMessage
			resp.LastSeverity = string(qs.LastSeverity)
			resp.Pending = qs.Pending
			if qs.State == batch.QueueIdle && qs.LastSeverity == batch.SeverityError {
				resp.State = "error"
			}
		}

		// Peek never spawns the tool; the cache is filled at startup and by
		// the doctor command.
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Tool = &ToolStatusResponse{
					Available: caps.Available,
					Version:   caps.ToolVersion,
					Launcher:  caps.Launcher,
					Error:     caps.Error,
				}
				if !caps.ProbedAt.IsZero() {
					resp.Tool.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func formatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, FormatsResponse{
			Default: export.DefaultFormat,
			Formats: export.Selectable(),
		})
	}
}

func outputDirHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, OutputDirResponse{OutputDir: cfg.Service.DefaultOutputDir()})
	}
}

func commandHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		params, err := req.Params.resolve(cfg.Defaults)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		refs := make([]editor.FileRef, len(req.Files))
		for i, f := range req.Files {
			refs[i] = editor.NewFileRef(f)
		}
		WriteJSON(w, http.StatusOK, CommandResponse{Command: editor.Preview(refs, params)})
	}
}

func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if len(req.Files) == 0 {
			WriteError(w, http.StatusBadRequest, batch.MsgNoPreviewFiles, "BAD_REQUEST")
			return
		}

		params, err := req.Params.resolve(cfg.Defaults)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		path, err := batch.ValidateInput(req.Files[0])
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		st, err := cfg.Orchestrator.PreviewOne(r.Context(), editor.NewFileRef(path), params)
		switch {
		case errors.Is(err, batch.ErrBusy):
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		case err != nil:
			cfg.Logger.Warn("preview failed", "error", err)
			WriteError(w, http.StatusInternalServerError, batch.MsgPreviewFailed, "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, PreviewResponse{Message: batch.PreviewMessage(st), Stats: st})
	}
}

func submitBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		params, err := req.Params.resolve(cfg.Defaults)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		b, err := cfg.Service.Submit(r.Context(), batch.SubmitRequest{
			Files:     req.Files,
			Params:    params,
			OutputDir: req.OutputDir,
			Import:    req.Import,
			Source:    batch.SourceAPI,
		})
		switch {
		case errors.Is(err, batch.ErrNoInput):
			WriteError(w, http.StatusBadRequest, batch.MsgNoFiles, "BAD_REQUEST")
			return
		case errors.Is(err, batch.ErrInvalidFile), errors.Is(err, batch.ErrInvalidRequest):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case err != nil:
			cfg.Logger.Error("failed to submit batch", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to submit batch", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, SubmitBatchResponse{BatchID: b.ID, State: string(b.State)})
	}
}

func listBatchesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		batches, err := cfg.Service.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list batches", "INTERNAL_ERROR")
			return
		}

		resp := BatchesResponse{Batches: make([]BatchResponse, len(batches))}
		for i, b := range batches {
			resp.Batches[i] = BatchToResponse(b)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, BatchToResponse(b))
	}
}

func cancelBatchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := cfg.Queue.Cancel(r.Context(), id)
		switch {
		case errors.Is(err, batch.ErrBatchNotFound):
			WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
			return
		case errors.Is(err, batch.ErrNotCancellable):
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusAccepted, CancelResponse{BatchID: id, Status: "cancelling"})
	}
}

func outputHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, ok := lookupBatch(w, r, cfg)
		if !ok {
			return
		}

		idx, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || idx < 0 || idx >= len(b.Files) {
			WriteError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
			return
		}
		f := b.Files[idx]
		if f.Status != batch.FileStatusSucceeded || f.OutputPath == "" {
			WriteError(w, http.StatusNotFound, "output not available", "NOT_FOUND")
			return
		}

		if err := cfg.Outputs.ServeFile(w, r, f.OutputPath); err != nil {
			cfg.Logger.Error("output serve error", "error", err, "batch_id", b.ID, "index", idx)
		}
	}
}

func lookupBatch(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*batch.Batch, bool) {
	b, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, batch.ErrBatchNotFound):
		WriteError(w, http.StatusNotFound, "batch not found", "NOT_FOUND")
		return nil, false
	case err != nil:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return b, true
}
