package ui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/autoedit/autoedit-agent/internal/batch"
)

//go:embed icon.png
var iconBytes []byte

const maxStatusLen = 60

// Pauser is the queue control the tray toggles.
type Pauser interface {
	Pause()
	Resume()
	IsPaused() bool
}

// Tray is the menu bar front end. It receives batch notifications and
// mirrors the latest one in its status line.
type Tray struct {
	queue     Pauser
	outputDir string
	logger    *slog.Logger

	statusItem *systray.MenuItem
	batchItem  *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu         sync.Mutex
	status     string
	lastResult string

	onQuit func()
}

type TrayConfig struct {
	Queue     Pauser
	OutputDir string
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		queue:     cfg.Queue,
		outputDir: cfg.OutputDir,
		logger:    cfg.Logger,
		status:    "Idle",
		onQuit:    cfg.OnQuit,
	}
}

// Run blocks on the platform event loop.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Auto-Editor")
	systray.SetTooltip("Auto-Editor Agent")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem(statusTitle(t.status), "Latest progress message")
	t.statusItem.Disable()
	t.batchItem = systray.AddMenuItem("Last batch: none", "Result of the last batch")
	t.batchItem.Disable()
	if t.lastResult != "" {
		t.batchItem.SetTitle(t.lastResult)
	}
	t.mu.Unlock()

	systray.AddSeparator()

	pauseTitle := "Pause"
	t.mu.Lock()
	if t.queue != nil && t.queue.IsPaused() {
		pauseTitle = "Resume"
	}
	t.mu.Unlock()
	t.pauseItem = systray.AddMenuItem(pauseTitle, "Pause or resume the batch queue")
	openItem := systray.AddMenuItem("Open Output Folder", "Show where edited files are written")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Auto-Editor Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-openItem.ClickedCh:
				t.logger.Info("output folder", "path", t.outputDir)
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// SetQueue attaches the queue the Pause item controls.
func (t *Tray) SetQueue(q Pauser) {
	t.mu.Lock()
	t.queue = q
	t.mu.Unlock()
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue == nil {
		return
	}

	if t.queue.IsPaused() {
		t.queue.Resume()
		t.setPauseTitle("Pause")
		t.setStatus("Idle")
	} else {
		t.queue.Pause()
		t.setPauseTitle("Resume")
		t.setStatus("Paused")
	}
}

// OnProgress implements batch.Notifier.
func (t *Tray) OnProgress(message string, severity batch.Severity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if severity == batch.SeverityError {
		message = "⚠ " + message
	}
	t.setStatus(message)
}

// OnBatchComplete implements batch.Notifier.
func (t *Tray) OnBatchComplete(result batch.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastResult = fmt.Sprintf("Last batch: %d ok, %d failed", result.SuccessCount, result.FailureCount)
	if t.batchItem != nil {
		t.batchItem.SetTitle(t.lastResult)
	}
}

// Status returns the current status line text.
func (t *Tray) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Tray) setStatus(s string) {
	t.status = s
	if t.statusItem != nil {
		t.statusItem.SetTitle(statusTitle(s))
	}
}

func (t *Tray) setPauseTitle(s string) {
	if t.pauseItem != nil {
		t.pauseItem.SetTitle(s)
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusTitle(s string) string {
	r := []rune(s)
	if len(r) > maxStatusLen {
		s = string(r[:maxStatusLen-1]) + "…"
	}
	return "Status: " + s
}
