package editor

import (
	"fmt"
	"strconv"
	"strings"
)

// Argv is one tool invocation as display tokens. The input path token is
// always quoted, so Tokenize(a.String()) reproduces a.
type Argv []string

// Build assembles the invocation for one file. An empty outputPath omits
// --output, which is how command previews are rendered.
func Build(file FileRef, params EditParameters, outputPath string) Argv {
	argv := Argv{
		ToolName,
		quote(file.AbsolutePath),
		"--export", string(params.ExportFormat),
		"--edit", "audio:" + formatNumber(params.LoudnessDB) + "dB",
		"--margin", formatNumber(params.MarginSeconds) + "s",
	}
	if params.StatsRequested {
		argv = append(argv, "--stats")
	}
	if outputPath != "" {
		argv = append(argv, "--output", quoteIfSpaced(outputPath))
	}
	return argv
}

// String renders the display command line.
func (a Argv) String() string {
	return strings.Join(a, " ")
}

// Program is the tool token.
func (a Argv) Program() string {
	if len(a) == 0 {
		return ""
	}
	return a[0]
}

// Args returns the arguments after the program token with one pair of
// surrounding quotes removed, ready for exec.
func (a Argv) Args() []string {
	if len(a) < 2 {
		return nil
	}
	out := make([]string, 0, len(a)-1)
	for _, tok := range a[1:] {
		out = append(out, unquote(tok))
	}
	return out
}

// OutputPath returns the unquoted --output value, if present.
func (a Argv) OutputPath() string {
	for i := 0; i < len(a)-1; i++ {
		if a[i] == "--output" {
			return unquote(a[i+1])
		}
	}
	return ""
}

// Preview renders the command shown before anything runs. No files shows
// the placeholder input; several files collapse into a count.
func Preview(files []FileRef, params EditParameters) string {
	switch len(files) {
	case 0:
		return Build(FileRef{AbsolutePath: PlaceholderInput}, params, "").String()
	case 1:
		return Build(files[0], params, "").String()
	}
	argv := Build(files[0], params, "")
	argv[1] = fmt.Sprintf("[%d files selected]", len(files))
	return argv.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func quote(s string) string {
	return `"` + s + `"`
}

func quoteIfSpaced(s string) string {
	if strings.ContainsRune(s, ' ') {
		return quote(s)
	}
	return s
}

func unquote(tok string) string {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return tok[1 : len(tok)-1]
	}
	return tok
}
