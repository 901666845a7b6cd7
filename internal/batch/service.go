package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
)

const (
	sniffBytes  = 262
	maxNameStem = 120
)

// VideoExtensions are the inputs offered by the file picker.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// SubmitRequest describes a batch to queue.
type SubmitRequest struct {
	Files     []string
	Params    editor.EditParameters
	OutputDir string // empty selects the default output directory
	Import    bool   // copy inputs into the import folder first
	Source    string
}

// Service validates and queues batches.
type Service struct {
	repo      Repository
	outputDir string
	importDir string
	logger    *slog.Logger
	wake      func()
}

func NewService(repo Repository, outputDir, importDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, outputDir: outputDir, importDir: importDir, logger: logger}
}

// OnSubmit registers a callback run after each successful Submit, used to
// wake the queue without waiting for its next poll.
func (s *Service) OnSubmit(fn func()) {
	s.wake = fn
}

// DefaultOutputDir is the output root used when a request names none.
func (s *Service) DefaultOutputDir() string {
	return s.outputDir
}

// Submit validates the request and stores a pending batch.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Batch, error) {
	if len(req.Files) == 0 {
		return nil, ErrNoInput
	}
	if _, err := export.ParseFormat(string(req.Params.ExportFormat)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	outputDir := s.outputDir
	if req.OutputDir != "" {
		if err := export.CheckOutputDir(req.OutputDir); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		outputDir = filepath.Clean(req.OutputDir)
	}

	paths := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		p, err := ValidateInput(f)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	if req.Import {
		imported, err := s.importFiles(paths)
		if err != nil {
			return nil, err
		}
		paths = imported
	}

	source := req.Source
	if source == "" {
		source = SourceAPI
	}

	now := time.Now().UTC()
	b := &Batch{
		ID:        uuid.NewString(),
		State:     StatePending,
		Source:    source,
		Params:    req.Params,
		OutputDir: outputDir,
		Total:     len(paths),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, p := range paths {
		b.Files = append(b.Files, FileOutcome{
			Index:  i,
			Name:   filepath.Base(p),
			Path:   p,
			Status: FileStatusPending,
		})
	}

	if err := s.repo.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("store batch: %w", err)
	}

	s.logger.Info("batch queued",
		"batch_id", b.ID,
		"files", b.Total,
		"source", source,
		"format", string(b.Params.ExportFormat),
	)
	if s.wake != nil {
		s.wake()
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBatchNotFound
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*Batch, error) {
	return s.repo.ListBatches(ctx, limit)
}

// ValidateInput resolves path and checks that it is a readable video file.
// The extension must be one the picker offers, and if the header is
// recognisable it must be a video or audio container.
func ValidateInput(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s does not exist", ErrInvalidFile, path)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrInvalidFile, path)
	}
	if !IsVideoFile(abs) {
		return "", fmt.Errorf("%w: %s is not a supported video file", ErrInvalidFile, path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidFile, path, err)
	}
	defer f.Close()

	head := make([]byte, sniffBytes)
	n, _ := io.ReadFull(f, head)
	if kind, _ := filetype.Match(head[:n]); kind != filetype.Unknown {
		if !filetype.IsVideo(head[:n]) && !filetype.IsAudio(head[:n]) {
			return "", fmt.Errorf("%w: %s looks like %s, not video", ErrInvalidFile, path, kind.MIME.Value)
		}
	}
	return abs, nil
}

// IsVideoFile reports whether name has a supported video extension.
func IsVideoFile(name string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(name))]
}

// importFiles copies inputs into the import folder and returns the copies.
func (s *Service) importFiles(paths []string) ([]string, error) {
	if err := os.MkdirAll(s.importDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create import dir: %w", err)
	}

	out := make([]string, 0, len(paths))
	for _, src := range paths {
		dst := uniquePath(filepath.Join(s.importDir, export.SafeFileName(src, maxNameStem)))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("import %s: %w", filepath.Base(src), err)
		}
		s.logger.Info("file imported", "file", filepath.Base(src), "dest", filepath.Base(dst))
		out = append(out, dst)
	}
	return out, nil
}

// uniquePath appends _2, _3, ... to the stem until the path is unused.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := stem + "_" + strconv.Itoa(i) + ext
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
