// Package export describes the target formats the editing tool can write and
// the file-system checks applied to user-chosen output locations.
package export

import (
	"fmt"
	"sort"
	"strings"
)

// Format is an export target token accepted by the tool's --export flag.
type Format string

const (
	FormatPremiere     Format = "premiere"
	FormatResolveFCP7  Format = "resolve-fcp7"
	FormatFinalCutPro  Format = "final-cut-pro"
	FormatShotcut      Format = "shotcut"
	FormatAudio        Format = "audio"
	FormatResolve      Format = "resolve"
	FormatJSON         Format = "json"
	FormatTimeline     Format = "timeline"
	FormatClipSequence Format = "clip-sequence"
	FormatMP4          Format = "mp4"

	DefaultFormat = FormatPremiere

	// FallbackExtension is used for any format missing from the table.
	FallbackExtension = ".mp4"
)

// FormatInfo describes one row of the format table.
type FormatInfo struct {
	Format     Format `json:"format"`
	Label      string `json:"label"`
	Extension  string `json:"extension"`
	Selectable bool   `json:"selectable"`
}

var formats = map[Format]FormatInfo{
	FormatPremiere:     {FormatPremiere, "Adobe Premiere Pro", ".xml", true},
	FormatResolveFCP7:  {FormatResolveFCP7, "DaVinci Resolve (FCP7 XML)", ".xml", true},
	FormatFinalCutPro:  {FormatFinalCutPro, "Final Cut Pro", ".xml", true},
	FormatShotcut:      {FormatShotcut, "Shotcut", ".mlt", true},
	FormatAudio:        {FormatAudio, "Audio only", ".mp3", true},
	FormatResolve:      {FormatResolve, "DaVinci Resolve", ".xml", false},
	FormatJSON:         {FormatJSON, "Timeline JSON", ".json", false},
	FormatTimeline:     {FormatTimeline, "Timeline", ".timeline", false},
	FormatClipSequence: {FormatClipSequence, "Clip sequence", ".clip-sequence", false},
	FormatMP4:          {FormatMP4, "Rendered MP4", ".mp4", false},
}

// ExtensionFor maps a format to the output file extension. Unknown formats
// get FallbackExtension and known=false; the caller decides whether to warn.
func ExtensionFor(f Format) (ext string, known bool) {
	info, ok := formats[f]
	if !ok {
		return FallbackExtension, false
	}
	return info.Extension, true
}

// Lookup returns the table row for a format.
func Lookup(f Format) (FormatInfo, bool) {
	info, ok := formats[f]
	return info, ok
}

// Selectable lists the formats offered to users, ordered by token.
func Selectable() []FormatInfo {
	out := make([]FormatInfo, 0, len(formats))
	for _, info := range formats {
		if info.Selectable {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Format < out[j].Format })
	return out
}

// ParseFormat validates a user-supplied token. Empty input yields
// DefaultFormat. Internal-only formats are accepted as well.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultFormat, nil
	}
	f := Format(s)
	if _, ok := formats[f]; !ok {
		return "", fmt.Errorf("unsupported export format %q", s)
	}
	return f, nil
}
