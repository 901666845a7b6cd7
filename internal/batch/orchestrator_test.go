package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autoedit/autoedit-agent/internal/editor"
	"github.com/autoedit/autoedit-agent/internal/export"
	"github.com/autoedit/autoedit-agent/internal/pipelines"
	"github.com/autoedit/autoedit-agent/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	calls atomic.Int32
	mu    sync.Mutex
	argvs []editor.Argv
	runFn func(ctx context.Context, argv editor.Argv) pipelines.Outcome
}

func (f *fakeRunner) Run(ctx context.Context, argv editor.Argv, onLine pipelines.LineFunc) pipelines.Outcome {
	f.calls.Add(1)
	f.mu.Lock()
	f.argvs = append(f.argvs, argv)
	f.mu.Unlock()
	if f.runFn != nil {
		return f.runFn(ctx, argv)
	}
	return succeeded("")
}

func (f *fakeRunner) Probe(ctx context.Context) (*pipelines.Capabilities, error) {
	return &pipelines.Capabilities{Available: true, ProbedAt: time.Now()}, nil
}

func (f *fakeRunner) argv(i int) editor.Argv {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.argvs[i]
}

func succeeded(output string) pipelines.Outcome {
	code := 0
	return pipelines.Outcome{ExitCode: &code, Output: output + "\n" + pipelines.SuccessMarker}
}

func exited(code int, output string) pipelines.Outcome {
	return pipelines.Outcome{ExitCode: &code, Output: output}
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	severity []Severity
	results  []Result
	started  []int
	finished []FileOutcome
}

func (r *recordingNotifier) OnProgress(message string, severity Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.severity = append(r.severity, severity)
}

func (r *recordingNotifier) OnBatchComplete(result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingNotifier) OnFileStart(f FileOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, f.Index)
}

func (r *recordingNotifier) OnFileComplete(f FileOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, f)
}

func (r *recordingNotifier) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func setupOrchestrator(t *testing.T, runner *fakeRunner) (*Orchestrator, *recordingNotifier, string) {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "AutoEditorOutput")
	rec := &recordingNotifier{}
	orch := NewOrchestrator(runner, editor.NewResolver(outDir, testLogger()), nil, rec, testLogger())
	return orch, rec, outDir
}

func refs(names ...string) []editor.FileRef {
	out := make([]editor.FileRef, len(names))
	for i, n := range names {
		out[i] = editor.NewFileRef("/videos/" + n)
	}
	return out
}

func TestRunBatch_SingleFileScenario(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		return succeeded("Original duration: 00:10.0\nNew duration: 00:07.5\nPercent cut: 25.0%")
	}}
	orch, rec, outDir := setupOrchestrator(t, runner)

	params := editor.EditParameters{LoudnessDB: -19, MarginSeconds: 0, ExportFormat: export.FormatPremiere}
	res, err := orch.RunBatch(context.Background(), refs("clip.mp4"), params)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	argv := runner.argv(0)
	if argv[len(argv)-2] != "--output" {
		t.Fatalf("argv should end with --output <path>: %q", argv)
	}
	if want := filepath.Join(outDir, "clip_edited.xml"); argv.OutputPath() != want {
		t.Errorf("output path = %q, want %q", argv.OutputPath(), want)
	}

	if res.State != StateCompleted || res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Errorf("result = %s %d/%d, want completed 1/0", res.State, res.SuccessCount, res.FailureCount)
	}
	if len(res.Stats) != 1 {
		t.Fatalf("len(Stats) = %d, want 1", len(res.Stats))
	}
	st := res.Stats[0]
	if st.FileName != "clip.mp4" || *st.OriginalDuration != "00:10.0" || *st.NewDuration != "00:07.5" || *st.PercentCut != 25.0 {
		t.Errorf("stats = %+v", st)
	}
	if res.Message != MsgFileSucceeded {
		t.Errorf("Message = %q, want %q", res.Message, MsgFileSucceeded)
	}
	if len(rec.results) != 1 {
		t.Errorf("OnBatchComplete called %d times, want 1", len(rec.results))
	}
	if rec.messages[0] != "Processing file 1/1: clip.mp4" {
		t.Errorf("first message = %q", rec.messages[0])
	}
}

func TestRunBatch_PartialFailure(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		if strings.Contains(argv[1], "b.mp4") {
			return exited(1, "Error: bad stream")
		}
		return succeeded("Percent cut: 10%")
	}}
	orch, rec, _ := setupOrchestrator(t, runner)

	res, err := orch.RunBatch(context.Background(), refs("a.mp4", "b.mp4", "c.mp4"), editor.DefaultParameters())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}

	if res.State != StatePartiallyFailed {
		t.Errorf("State = %s, want partially_failed", res.State)
	}
	if res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", res.SuccessCount, res.FailureCount)
	}
	if runner.calls.Load() != 3 {
		t.Errorf("launches = %d, want 3", runner.calls.Load())
	}

	var progress []string
	for _, m := range rec.messages {
		if strings.HasPrefix(m, "Processing file ") {
			progress = append(progress, m)
		}
	}
	want := []string{
		"Processing file 1/3: a.mp4",
		"Processing file 2/3: b.mp4",
		"Processing file 3/3: c.mp4",
	}
	if !slices.Equal(progress, want) {
		t.Errorf("progress = %q, want %q", progress, want)
	}
	if rec.messages[0] != "Processing 3 files..." {
		t.Errorf("first message = %q", rec.messages[0])
	}
	if got := rec.last(); got != "Processed 2 files successfully, 1 files failed." {
		t.Errorf("summary = %q", got)
	}

	failed := res.Files[1]
	if failed.Status != FileStatusFailed || failed.Error != "Process failed with code 1" {
		t.Errorf("failed file = %+v", failed)
	}
	if !strings.Contains(failed.OutputTail, "bad stream") {
		t.Errorf("OutputTail = %q, want diagnostic text", failed.OutputTail)
	}
	if !slices.Equal(rec.started, []int{0, 1, 2}) || len(rec.finished) != 3 {
		t.Errorf("file observer saw started=%v finished=%d", rec.started, len(rec.finished))
	}
}

func TestRunBatch_AllSucceeded(t *testing.T) {
	orch, rec, _ := setupOrchestrator(t, &fakeRunner{})

	res, err := orch.RunBatch(context.Background(), refs("a.mp4", "b.mp4"), editor.DefaultParameters())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if res.State != StateCompleted || res.Message != "All 2 files processed successfully!" {
		t.Errorf("result = %s %q", res.State, res.Message)
	}
	if rec.severity[len(rec.severity)-1] != SeveritySuccess {
		t.Errorf("summary severity = %s, want success", rec.severity[len(rec.severity)-1])
	}
}

func TestRunBatch_EmptyInput(t *testing.T) {
	runner := &fakeRunner{}
	orch, rec, _ := setupOrchestrator(t, runner)

	res, err := orch.RunBatch(context.Background(), nil, editor.DefaultParameters())
	if !errors.Is(err, ErrNoInput) {
		t.Fatalf("error = %v, want ErrNoInput", err)
	}
	if res.State != StateEmptyInputRejected {
		t.Errorf("State = %s, want empty_input_rejected", res.State)
	}
	if runner.calls.Load() != 0 {
		t.Errorf("launches = %d, want 0", runner.calls.Load())
	}
	if rec.last() != MsgNoFiles || rec.severity[0] != SeverityError {
		t.Errorf("notification = %q (%s)", rec.last(), rec.severity[0])
	}
}

func TestRunBatch_SingleFileFailureMessage(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		return exited(2, "")
	}}
	orch, _, _ := setupOrchestrator(t, runner)

	res, _ := orch.RunBatch(context.Background(), refs("a.mp4"), editor.DefaultParameters())
	if res.Message != "Error: Process failed with code 2" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestRunBatch_LaunchErrorContinues(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		if strings.Contains(argv[1], "a.mp4") {
			return pipelines.Outcome{LaunchErr: errors.New("python not found")}
		}
		return succeeded("")
	}}
	orch, _, _ := setupOrchestrator(t, runner)

	res, err := orch.RunBatch(context.Background(), refs("a.mp4", "b.mp4"), editor.DefaultParameters())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", res.SuccessCount, res.FailureCount)
	}
	if res.Files[0].ExitCode != nil {
		t.Errorf("launch failure should have no exit code")
	}
	if !strings.Contains(res.Files[0].Error, "python not found") {
		t.Errorf("Error = %q", res.Files[0].Error)
	}
}

func TestRunBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		if strings.Contains(argv[1], "b.mp4") {
			cancel()
			return pipelines.Outcome{Cancelled: true}
		}
		return succeeded("")
	}}
	orch, rec, _ := setupOrchestrator(t, runner)

	res, err := orch.RunBatch(ctx, refs("a.mp4", "b.mp4", "c.mp4"), editor.DefaultParameters())
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if res.State != StateCancelled {
		t.Errorf("State = %s, want cancelled", res.State)
	}
	if runner.calls.Load() != 2 {
		t.Errorf("launches = %d, want 2", runner.calls.Load())
	}
	if res.Attempted != 1 || res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Errorf("attempted/success/failure = %d/%d/%d, want 1/1/0", res.Attempted, res.SuccessCount, res.FailureCount)
	}
	for _, i := range []int{1, 2} {
		if res.Files[i].Status != FileStatusCancelled {
			t.Errorf("file %d status = %s, want cancelled", i, res.Files[i].Status)
		}
	}
	if rec.last() != "Batch cancelled after 1 of 3 files." {
		t.Errorf("summary = %q", rec.last())
	}
	if orch.Busy() {
		t.Error("orchestrator still busy after cancellation")
	}
}

func TestRunBatch_BusyRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		close(started)
		<-release
		return succeeded("")
	}}
	orch, _, _ := setupOrchestrator(t, runner)

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunBatch(context.Background(), refs("a.mp4"), editor.DefaultParameters())
		done <- err
	}()
	<-started

	if _, err := orch.RunBatch(context.Background(), refs("b.mp4"), editor.DefaultParameters()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent RunBatch error = %v, want ErrBusy", err)
	}
	if _, err := orch.PreviewOne(context.Background(), editor.NewFileRef("/v/c.mp4"), editor.DefaultParameters()); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent PreviewOne error = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunBatch error = %v", err)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("launches = %d, want 1", runner.calls.Load())
	}
}

func TestRunBatch_OutputDirOption(t *testing.T) {
	runner := &fakeRunner{}
	orch, _, _ := setupOrchestrator(t, runner)
	custom := filepath.Join(t.TempDir(), "custom")

	res, err := orch.RunBatch(context.Background(), refs("a.mp4"), editor.DefaultParameters(),
		WithOutputDir(custom), WithBatchID("b-1"))
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if res.BatchID != "b-1" {
		t.Errorf("BatchID = %q", res.BatchID)
	}
	if want := filepath.Join(custom, "a_edited.xml"); res.Files[0].OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", res.Files[0].OutputPath, want)
	}
}

func TestRunBatch_AccountingInvariant(t *testing.T) {
	patterns := [][]bool{
		{true},
		{false},
		{true, true, true, true},
		{false, false, false},
		{true, false, true, false, true},
	}
	for i, pattern := range patterns {
		t.Run(fmt.Sprintf("pattern-%d", i), func(t *testing.T) {
			runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
				var idx int
				fmt.Sscanf(strings.Trim(argv[1], `"`), "/videos/f%d.mp4", &idx)
				if pattern[idx] {
					return succeeded("")
				}
				return exited(1, "")
			}}
			orch, _, _ := setupOrchestrator(t, runner)

			names := make([]string, len(pattern))
			for j := range pattern {
				names[j] = fmt.Sprintf("f%d.mp4", j)
			}
			res, err := orch.RunBatch(context.Background(), refs(names...), editor.DefaultParameters())
			if err != nil {
				t.Fatalf("RunBatch() error = %v", err)
			}
			if res.SuccessCount+res.FailureCount != res.Attempted {
				t.Errorf("success+failure = %d, attempted = %d", res.SuccessCount+res.FailureCount, res.Attempted)
			}
			if res.Attempted != res.Total {
				t.Errorf("attempted = %d, total = %d", res.Attempted, res.Total)
			}
			wantState := StateCompleted
			if slices.Contains(pattern, false) {
				wantState = StatePartiallyFailed
			}
			if res.State != wantState {
				t.Errorf("State = %s, want %s", res.State, wantState)
			}
		})
	}
}

func TestPreviewOne_ForcesStats(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		return succeeded("Original duration: 01:00.0\nNew duration: 00:45.0\nPercent cut: 25.0%")
	}}
	orch, rec, _ := setupOrchestrator(t, runner)

	params := editor.DefaultParameters()
	params.StatsRequested = false
	st, err := orch.PreviewOne(context.Background(), editor.NewFileRef("/v/clip.mp4"), params)
	if err != nil {
		t.Fatalf("PreviewOne() error = %v", err)
	}

	if !slices.Contains(runner.argv(0), "--stats") {
		t.Errorf("preview argv missing --stats: %q", runner.argv(0))
	}
	if st.PercentCut == nil || *st.PercentCut != 25 {
		t.Errorf("PercentCut = %v, want 25", st.PercentCut)
	}
	want := []string{MsgGenerating, "Preview generated. Approximately 25% will be cut."}
	if !slices.Equal(rec.messages, want) {
		t.Errorf("messages = %q, want %q", rec.messages, want)
	}
	if len(rec.results) != 0 {
		t.Error("preview must not report a batch result")
	}
}

func TestPreviewOne_Failure(t *testing.T) {
	runner := &fakeRunner{runFn: func(ctx context.Context, argv editor.Argv) pipelines.Outcome {
		return exited(1, "boom")
	}}
	orch, rec, _ := setupOrchestrator(t, runner)

	_, err := orch.PreviewOne(context.Background(), editor.NewFileRef("/v/clip.mp4"), editor.DefaultParameters())
	if !errors.Is(err, ErrPreviewFailed) {
		t.Fatalf("error = %v, want ErrPreviewFailed", err)
	}
	if rec.last() != MsgPreviewFailed {
		t.Errorf("last message = %q", rec.last())
	}
}

func TestPreview_NoFiles(t *testing.T) {
	runner := &fakeRunner{}
	orch, rec, _ := setupOrchestrator(t, runner)

	if _, err := orch.Preview(context.Background(), nil, editor.DefaultParameters()); !errors.Is(err, ErrNoInput) {
		t.Fatalf("error = %v, want ErrNoInput", err)
	}
	if rec.last() != MsgNoPreviewFiles {
		t.Errorf("message = %q", rec.last())
	}
	if runner.calls.Load() != 0 {
		t.Error("no launch expected")
	}
}

func TestPreviewMessage_NoPercent(t *testing.T) {
	if got := PreviewMessage(stats.FileStats{FileName: "a"}); got != "Preview generated." {
		t.Errorf("PreviewMessage() = %q", got)
	}
}
