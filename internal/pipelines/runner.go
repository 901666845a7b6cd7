package pipelines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/autoedit/autoedit-agent/internal/editor"
)

const (
	maxOutputBytes = 1024 * 1024 // tail of combined output kept per run
	waitDelay      = 5 * time.Second
)

// LineFunc receives each line of tool output as it is produced.
type LineFunc func(line string)

// Runner executes one tool invocation at a time per call.
type Runner interface {
	// Run launches the tool for argv and blocks until it reaches a terminal
	// outcome. Cancelling ctx kills the child.
	Run(ctx context.Context, argv editor.Argv, onLine LineFunc) Outcome

	// Probe checks that the tool can be launched and reports its version.
	Probe(ctx context.Context) (*Capabilities, error)
}

// Config holds the runner's configuration.
type Config struct {
	PythonPath   string        // path to python binary; empty = auto-detect
	ModuleName   string        // python module, default "auto_editor"
	ToolPath     string        // if set, exec this binary instead of python -m
	Timeout      time.Duration // per run; zero means no limit
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production defaults. No run timeout is applied.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		ModuleName:   editor.ToolName,
		ProbeTimeout: 30 * time.Second,
		Logger:       logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg Config
}

// NewRunner creates a SubprocessRunner. The interpreter or binary is looked
// up on every run so a missing tool surfaces as a per-file launch error.
func NewRunner(cfg Config) *SubprocessRunner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ModuleName == "" {
		cfg.ModuleName = editor.ToolName
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}

	cfg.Logger.Info("tool runner initialised",
		"module", cfg.ModuleName,
		"tool_path", cfg.ToolPath,
		"timeout", cfg.Timeout,
	)
	return &SubprocessRunner{cfg: cfg}
}

// Run executes argv and captures stdout and stderr into one buffer.
func (r *SubprocessRunner) Run(ctx context.Context, argv editor.Argv, onLine LineFunc) Outcome {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return Outcome{Cancelled: true}
	}

	name, cmdArgs, err := r.command(argv.Args())
	if err != nil {
		r.cfg.Logger.Warn("cannot launch tool", "error", err)
		return Outcome{LaunchErr: err, Duration: time.Since(start)}
	}

	runCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, name, cmdArgs...)
	cmd.WaitDelay = waitDelay

	sink := newOutputSink(maxOutputBytes, onLine)
	cmd.Stdout = sink
	cmd.Stderr = sink

	r.cfg.Logger.Info("executing tool command",
		"command", r.safeCommand(argv),
		"output", r.safePath(argv.OutputPath()),
	)

	if err := cmd.Start(); err != nil {
		r.cfg.Logger.Warn("tool failed to start", "error", err)
		return Outcome{LaunchErr: fmt.Errorf("start %s: %w", name, err), Duration: time.Since(start)}
	}

	waitErr := cmd.Wait()
	sink.Flush()
	elapsed := time.Since(start)
	output := sink.String()

	// A child that exited 0 before the cancel landed has written its output.
	exitedCleanly := cmd.ProcessState != nil && cmd.ProcessState.Success()

	if ctx.Err() != nil && !exitedCleanly {
		r.cfg.Logger.Info("tool command cancelled", "duration_ms", elapsed.Milliseconds())
		return Outcome{Output: output, Cancelled: true, Duration: elapsed}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case cmd.ProcessState != nil:
			// ErrWaitDelay: the child exited but a grandchild held the pipes.
			exitCode = cmd.ProcessState.ExitCode()
		default:
			return Outcome{Output: output, LaunchErr: waitErr, Duration: elapsed}
		}
	}

	out := Outcome{ExitCode: &exitCode, Output: output, Duration: elapsed}
	if runCtx.Err() == context.DeadlineExceeded && !exitedCleanly {
		out.TimedOut = true
	}

	if exitCode == 0 && !out.TimedOut {
		if output != "" && !strings.HasSuffix(output, "\n") {
			out.Output += "\n"
		}
		out.Output += SuccessMarker
		r.cfg.Logger.Info("tool command succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(argv.OutputPath()),
		)
	} else {
		r.cfg.Logger.Warn("tool command failed",
			"exit_code", exitCode,
			"timed_out", out.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"output_tail", truncate(output, 512),
		)
	}

	return out
}

// Probe runs the tool with --version.
func (r *SubprocessRunner) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	caps := &Capabilities{ProbedAt: time.Now(), Launcher: r.launcher()}

	name, args, err := r.command([]string{"--version"})
	if err != nil {
		caps.Error = err.Error()
		return caps, err
	}
	if r.cfg.ToolPath == "" {
		caps.Python = name
	}

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		caps.Error = truncate(strings.TrimSpace(buf.String()), 512)
		if caps.Error == "" {
			caps.Error = err.Error()
		}
		return caps, fmt.Errorf("tool probe failed: %w", err)
	}

	caps.Available = true
	caps.ToolVersion = firstLine(buf.String())

	r.cfg.Logger.Info("tool probe complete",
		"launcher", caps.Launcher,
		"version", caps.ToolVersion,
	)
	return caps, nil
}

// command resolves the program and arguments for one invocation.
func (r *SubprocessRunner) command(args []string) (string, []string, error) {
	if r.cfg.ToolPath != "" {
		p, err := exec.LookPath(r.cfg.ToolPath)
		if err != nil {
			return "", nil, fmt.Errorf("configured tool %q not found: %w", r.cfg.ToolPath, err)
		}
		return p, args, nil
	}

	python, err := resolvePython(r.cfg.PythonPath)
	if err != nil {
		return "", nil, fmt.Errorf("cannot locate python: %w", err)
	}
	return python, append([]string{"-m", r.cfg.ModuleName}, args...), nil
}

func (r *SubprocessRunner) launcher() string {
	if r.cfg.ToolPath != "" {
		return r.cfg.ToolPath
	}
	return "python -m " + r.cfg.ModuleName
}

func (r *SubprocessRunner) safeCommand(argv editor.Argv) string {
	if r.cfg.DebugPaths {
		return argv.String()
	}
	display := make(editor.Argv, len(argv))
	copy(display, argv)
	if len(display) > 1 {
		display[1] = `"` + r.safePath(strings.Trim(display[1], `"`)) + `"`
	}
	return display.String()
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths || path == "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// outputSink is the shared stdout/stderr writer. It keeps the last limit
// bytes and hands complete lines to onLine. Carriage returns end a line so
// progress bars are reported as they redraw.
type outputSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	onLine  LineFunc
	partial []byte
}

func newOutputSink(limit int, onLine LineFunc) *outputSink {
	return &outputSink{limit: limit, onLine: onLine}
}

func (s *outputSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(p)
	s.buf.Write(p)
	if s.buf.Len() > s.limit {
		b := s.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-s.limit:]...)
		s.buf.Reset()
		s.buf.Write(tail)
	}

	if s.onLine != nil {
		for _, c := range p {
			if c == '\n' || c == '\r' {
				s.emit()
				continue
			}
			s.partial = append(s.partial, c)
		}
	}
	return n, nil
}

// Flush delivers any trailing partial line.
func (s *outputSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onLine != nil {
		s.emit()
	}
}

func (s *outputSink) emit() {
	if len(s.partial) == 0 {
		return
	}
	line := string(s.partial)
	s.partial = s.partial[:0]
	s.onLine(line)
}

func (s *outputSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
