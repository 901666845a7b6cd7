package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/pipelines"
	"github.com/autoedit/autoedit-agent/internal/stats"
)

const (
	MsgNoFiles        = "No files selected for processing."
	MsgNoPreviewFiles = "No files selected for preview."
	MsgFileSucceeded  = "File processed successfully!"
	MsgGenerating     = "Generating preview..."
	MsgPreviewFailed  = "Error generating preview."

	outputTailBytes = 2048
)

// Orchestrator runs files through the tool one at a time. A single
// Orchestrator never has more than one child process alive.
type Orchestrator struct {
	runner    pipelines.Runner
	resolver  *editor.Resolver
	extractor stats.Extractor
	notifier  Notifier
	logger    *slog.Logger
	busy      atomic.Bool
}

// NewOrchestrator wires the orchestrator. A nil extractor selects
// stats.TextExtractor; a nil notifier discards notifications.
func NewOrchestrator(runner pipelines.Runner, resolver *editor.Resolver, extractor stats.Extractor, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if extractor == nil {
		extractor = stats.TextExtractor{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		runner:    runner,
		resolver:  resolver,
		extractor: extractor,
		notifier:  notifier,
		logger:    logger,
	}
}

// Busy reports whether a batch or preview is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// OutputDir is the default output directory.
func (o *Orchestrator) OutputDir() string {
	return o.resolver.Dir()
}

type runOptions struct {
	batchID   string
	outputDir string
	notifier  Notifier
}

// RunOption adjusts a single RunBatch call.
type RunOption func(*runOptions)

// WithBatchID tags the result and log lines with id.
func WithBatchID(id string) RunOption {
	return func(o *runOptions) { o.batchID = id }
}

// WithOutputDir writes outputs to dir instead of the default directory.
func WithOutputDir(dir string) RunOption {
	return func(o *runOptions) { o.outputDir = dir }
}

// WithNotifier adds n alongside the orchestrator's own notifier.
func WithNotifier(n Notifier) RunOption {
	return func(o *runOptions) {
		o.notifier = Notifiers{o.notifier, n}
	}
}

// RunBatch processes files in order. Per-file failures are counted and never
// stop the batch; only empty input and ErrBusy are returned as errors.
// Cancelling ctx kills the current child and ends the batch as cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, files []editor.FileRef, params editor.EditParameters, opts ...RunOption) (Result, error) {
	ro := runOptions{notifier: o.notifier}
	for _, opt := range opts {
		opt(&ro)
	}
	n := ro.notifier
	resolver := o.resolver
	if ro.outputDir != "" && ro.outputDir != resolver.Dir() {
		resolver = editor.NewResolver(ro.outputDir, o.logger)
	}

	if len(files) == 0 {
		res := Result{BatchID: ro.batchID, State: StateEmptyInputRejected, Message: MsgNoFiles}
		n.OnProgress(MsgNoFiles, SeverityError)
		n.OnBatchComplete(res)
		return res, ErrNoInput
	}

	if !o.busy.CompareAndSwap(false, true) {
		return Result{BatchID: ro.batchID, State: StateIdle}, ErrBusy
	}
	defer o.busy.Store(false)

	logger := o.logger.With("batch_id", ro.batchID)
	total := len(files)
	res := Result{
		BatchID: ro.batchID,
		State:   StateRunning,
		Total:   total,
		Stats:   []stats.FileStats{},
		Files:   make([]FileOutcome, total),
	}
	for i, f := range files {
		res.Files[i] = FileOutcome{Index: i, Name: f.Name(), Path: f.AbsolutePath, Status: FileStatusPending}
	}

	logger.Info("batch started", "files", total, "format", string(params.ExportFormat))
	if total > 1 {
		n.OnProgress(fmt.Sprintf("Processing %d files...", total), SeverityNormal)
	}

	observer, _ := n.(FileObserver)
	cancelled := false

	for i, f := range files {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		n.OnProgress(fmt.Sprintf("Processing file %d/%d: %s", i+1, total, f.Name()), SeverityNormal)
		res.Files[i].Status = FileStatusRunning
		if observer != nil {
			observer.OnFileStart(res.Files[i])
		}

		fo := o.processFile(ctx, logger, resolver, res.Files[i], f, params)
		res.Files[i] = fo

		switch fo.Status {
		case FileStatusSucceeded:
			res.SuccessCount++
			if fo.Stats != nil {
				res.Stats = append(res.Stats, *fo.Stats)
			}
		case FileStatusFailed:
			res.FailureCount++
			if total > 1 {
				n.OnProgress(fmt.Sprintf("Failed to process %s: %s", fo.Name, fo.Error), SeverityError)
			}
		case FileStatusCancelled:
			cancelled = true
		}

		if observer != nil {
			observer.OnFileComplete(fo)
		}
		if cancelled {
			break
		}
	}

	for i := range res.Files {
		if res.Files[i].Status == FileStatusPending {
			res.Files[i].Status = FileStatusCancelled
		}
	}

	res.Attempted = res.SuccessCount + res.FailureCount
	severity := finish(&res, cancelled)

	logger.Info("batch finished",
		"state", string(res.State),
		"succeeded", res.SuccessCount,
		"failed", res.FailureCount,
	)
	n.OnProgress(res.Message, severity)
	n.OnBatchComplete(res)
	return res, nil
}

// finish sets the terminal state and summary message.
func finish(res *Result, cancelled bool) Severity {
	switch {
	case cancelled:
		res.State = StateCancelled
		res.Message = fmt.Sprintf("Batch cancelled after %d of %d files.", res.Attempted, res.Total)
		return SeverityError
	case res.FailureCount > 0:
		res.State = StatePartiallyFailed
		if res.Total == 1 {
			res.Message = "Error: " + res.Files[0].Error
		} else {
			res.Message = fmt.Sprintf("Processed %d files successfully, %d files failed.", res.SuccessCount, res.FailureCount)
		}
		return SeverityError
	default:
		res.State = StateCompleted
		if res.Total == 1 {
			res.Message = MsgFileSucceeded
		} else {
			res.Message = fmt.Sprintf("All %d files processed successfully!", res.SuccessCount)
		}
		return SeveritySuccess
	}
}

func (o *Orchestrator) processFile(ctx context.Context, logger *slog.Logger, resolver *editor.Resolver, fo FileOutcome, file editor.FileRef, params editor.EditParameters) (out FileOutcome) {
	start := time.Now()
	defer func() { out.DurationMs = time.Since(start).Milliseconds() }()

	outPath, err := resolver.Resolve(file.AbsolutePath, params.ExportFormat)
	if err != nil {
		fo.Status = FileStatusFailed
		fo.Error = err.Error()
		return fo
	}
	fo.OutputPath = outPath

	argv := editor.Build(file, params, outPath)
	outcome := o.runner.Run(ctx, argv, func(line string) {
		logger.Debug("tool output", "file", fo.Name, "line", line)
	})
	fo.ExitCode = outcome.ExitCode

	switch {
	case outcome.Cancelled:
		fo.Status = FileStatusCancelled
		fo.Error = outcome.Describe()
	case outcome.Succeeded():
		fo.Status = FileStatusSucceeded
		st := o.extractor.Extract(fo.Name, outcome.Output)
		fo.Stats = &st
	default:
		fo.Status = FileStatusFailed
		fo.Error = outcome.Describe()
		fo.OutputTail = outcome.Tail(outputTailBytes)
	}
	return fo
}

// Preview runs PreviewOne on the first file.
func (o *Orchestrator) Preview(ctx context.Context, files []editor.FileRef, params editor.EditParameters) (stats.FileStats, error) {
	if len(files) == 0 {
		o.notifier.OnProgress(MsgNoPreviewFiles, SeverityError)
		return stats.FileStats{}, ErrNoInput
	}
	return o.PreviewOne(ctx, files[0], params)
}

// PreviewOne runs the tool once with --stats forced on and returns what it
// reported. The invocation is a real edit; the tool has no dry-run mode.
// Batch counters are not touched.
func (o *Orchestrator) PreviewOne(ctx context.Context, file editor.FileRef, params editor.EditParameters) (stats.FileStats, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return stats.FileStats{}, ErrBusy
	}
	defer o.busy.Store(false)

	o.notifier.OnProgress(MsgGenerating, SeverityNormal)

	outPath, err := o.resolver.Resolve(file.AbsolutePath, params.ExportFormat)
	if err != nil {
		o.notifier.OnProgress(MsgPreviewFailed, SeverityError)
		return stats.FileStats{}, fmt.Errorf("%w: %v", ErrPreviewFailed, err)
	}

	argv := editor.Build(file, params.WithStats(), outPath)
	outcome := o.runner.Run(ctx, argv, nil)

	switch {
	case outcome.Cancelled:
		return stats.FileStats{}, ErrPreviewCanceled
	case !outcome.Succeeded():
		o.notifier.OnProgress(MsgPreviewFailed, SeverityError)
		o.logger.Warn("preview failed", "file", file.Name(), "reason", outcome.Describe())
		return stats.FileStats{}, fmt.Errorf("%w: %s", ErrPreviewFailed, outcome.Describe())
	}

	st := o.extractor.Extract(file.Name(), outcome.Output)
	o.notifier.OnProgress(PreviewMessage(st), SeveritySuccess)
	return st, nil
}

// PreviewMessage is the summary shown after a preview.
func PreviewMessage(st stats.FileStats) string {
	if st.PercentCut == nil {
		return "Preview generated."
	}
	return "Preview generated. Approximately " + strconv.FormatFloat(*st.PercentCut, 'f', -1, 64) + "% will be cut."
}
