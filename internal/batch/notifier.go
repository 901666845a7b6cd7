package batch

import "log/slog"

// Notifier receives status updates from the orchestrator. Calls are made
// synchronously from the batch loop and must not block for long.
type Notifier interface {
	OnProgress(message string, severity Severity)
	OnBatchComplete(result Result)
}

// FileObserver is optionally implemented by a Notifier that also wants
// per-file transitions.
type FileObserver interface {
	OnFileStart(file FileOutcome)
	OnFileComplete(file FileOutcome)
}

// Notifiers fans out to each element in order.
type Notifiers []Notifier

func (ns Notifiers) OnProgress(message string, severity Severity) {
	for _, n := range ns {
		if n != nil {
			n.OnProgress(message, severity)
		}
	}
}

func (ns Notifiers) OnBatchComplete(result Result) {
	for _, n := range ns {
		if n != nil {
			n.OnBatchComplete(result)
		}
	}
}

func (ns Notifiers) OnFileStart(file FileOutcome) {
	for _, n := range ns {
		if fo, ok := n.(FileObserver); ok {
			fo.OnFileStart(file)
		}
	}
}

func (ns Notifiers) OnFileComplete(file FileOutcome) {
	for _, n := range ns {
		if fo, ok := n.(FileObserver); ok {
			fo.OnFileComplete(file)
		}
	}
}

// LogNotifier writes every notification to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) OnProgress(message string, severity Severity) {
	if severity == SeverityError {
		l.Logger.Warn(message, "severity", string(severity))
		return
	}
	l.Logger.Info(message, "severity", string(severity))
}

func (l LogNotifier) OnBatchComplete(result Result) {
	l.Logger.Info("batch finished",
		"batch_id", result.BatchID,
		"state", string(result.State),
		"total", result.Total,
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
	)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) OnProgress(string, Severity) {}
func (NopNotifier) OnBatchComplete(Result)      {}
