package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/autoedit/autoedit-agent/internal/batch"
	"github.com/autoedit/autoedit-agent/internal/stats"
)

// consoleNotifier prints progress messages as they arrive.
type consoleNotifier struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

func newConsoleNotifier(out io.Writer) *consoleNotifier {
	return &consoleNotifier{out: out, color: shouldColorize(out)}
}

func (c *consoleNotifier) OnProgress(message string, severity batch.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.paint(message, severity))
}

func (c *consoleNotifier) OnBatchComplete(batch.Result) {}

func (c *consoleNotifier) paint(message string, severity batch.Severity) string {
	if !c.color {
		return message
	}
	switch severity {
	case batch.SeverityError:
		return text.Colors{text.FgRed}.Sprint(message)
	case batch.SeveritySuccess:
		return text.Colors{text.FgGreen}.Sprint(message)
	}
	return message
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// resultTable renders one row per file of a finished batch.
func resultTable(res batch.Result) string {
	headers := []string{"#", "File", "Status", "Original", "New", "Cut", "Output"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(res.Files))
	for _, f := range res.Files {
		var st stats.FileStats
		if f.Stats != nil {
			st = *f.Stats
		}
		status := string(f.Status)
		if f.Error != "" {
			status += ": " + f.Error
		}
		output := ""
		if f.Status == batch.FileStatusSucceeded {
			output = filepath.Base(f.OutputPath)
		}
		rows = append(rows, append([]string{strconv.Itoa(f.Index + 1), f.Name, status}, append(statsCells(st), output)...))
	}
	return renderTable(headers, rows, aligns)
}

func statsTable(st stats.FileStats) string {
	return renderTable(
		[]string{"File", "Original", "New", "Cut"},
		[][]string{append([]string{st.FileName}, statsCells(st)...)},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)
}

func statsCells(st stats.FileStats) []string {
	cells := []string{"-", "-", "-"}
	if st.OriginalDuration != nil {
		cells[0] = *st.OriginalDuration
	}
	if st.NewDuration != nil {
		cells[1] = *st.NewDuration
	}
	if st.PercentCut != nil {
		cells[2] = strconv.FormatFloat(*st.PercentCut, 'f', -1, 64) + "%"
	}
	return cells
}
