// Package stats pulls cut statistics out of the editing tool's text output.
package stats

import (
	"regexp"
	"strconv"
)

// FileStats holds the statistics reported for one file. A nil field means
// the tool did not print it.
type FileStats struct {
	FileName         string   `json:"file_name"`
	OriginalDuration *string  `json:"original_duration,omitempty"`
	NewDuration      *string  `json:"new_duration,omitempty"`
	PercentCut       *float64 `json:"percent_cut,omitempty"`
}

// Empty reports whether no field was found.
func (s FileStats) Empty() bool {
	return s.OriginalDuration == nil && s.NewDuration == nil && s.PercentCut == nil
}

// Extractor turns captured tool output into statistics. Implementations
// never fail; missing values are left nil.
type Extractor interface {
	Extract(fileName, output string) FileStats
}

const (
	OriginalDurationLabel = "Original duration: "
	NewDurationLabel      = "New duration: "
	PercentCutLabel       = "Percent cut: "
)

var (
	originalDurationRe = regexp.MustCompile(OriginalDurationLabel + `(\d+(?::\d+)*(?:\.\d+)?)`)
	newDurationRe      = regexp.MustCompile(NewDurationLabel + `(\d+(?::\d+)*(?:\.\d+)?)`)
	percentCutRe       = regexp.MustCompile(PercentCutLabel + `(\d+(?:\.\d+)?)%`)
)

// TextExtractor matches the human-readable lines printed by --stats. The
// first occurrence of each label wins.
type TextExtractor struct{}

func (TextExtractor) Extract(fileName, output string) FileStats {
	s := FileStats{FileName: fileName}
	if m := originalDurationRe.FindStringSubmatch(output); m != nil {
		v := m[1]
		s.OriginalDuration = &v
	}
	if m := newDurationRe.FindStringSubmatch(output); m != nil {
		v := m[1]
		s.NewDuration = &v
	}
	if m := percentCutRe.FindStringSubmatch(output); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.PercentCut = &f
		}
	}
	return s
}

// Extract runs the default TextExtractor.
func Extract(fileName, output string) FileStats {
	return TextExtractor{}.Extract(fileName, output)
}
