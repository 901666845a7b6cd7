package editor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/autoedit/autoedit-agent/internal/export"
)

const editedSuffix = "_edited"

// Resolver derives output paths inside a single output directory.
type Resolver struct {
	dir    string
	logger *slog.Logger
}

// NewResolver does not touch the file system; the directory is created by
// each Resolve call.
func NewResolver(dir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// Resolve maps an input path and format to the output file path, creating
// the output directory if needed. Unknown formats fall back to .mp4.
func (r *Resolver) Resolve(inputPath string, format export.Format) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create output dir: %w", err)
	}

	ext, known := export.ExtensionFor(format)
	if !known {
		r.logger.Warn("unknown export format, using fallback extension",
			"format", string(format),
			"extension", ext,
		)
	}

	return filepath.Join(r.dir, OutputName(inputPath, ext)), nil
}

// OutputName is the output file name for inputPath with extension ext.
func OutputName(inputPath, ext string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if !strings.Contains(stem, ToolName) {
		stem += editedSuffix
	}
	return stem + ext
}
