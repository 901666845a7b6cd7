package stats

import "testing"

func TestExtract_Empty(t *testing.T) {
	got := Extract("clip.mp4", "")
	if !got.Empty() {
		t.Errorf("Extract(\"\") = %+v, want all fields nil", got)
	}
	if got.FileName != "clip.mp4" {
		t.Errorf("FileName = %q, want clip.mp4", got.FileName)
	}
}

func TestExtract_PercentOnly(t *testing.T) {
	got := Extract("a.mp4", "Percent cut: 42.5%")
	if got.PercentCut == nil || *got.PercentCut != 42.5 {
		t.Fatalf("PercentCut = %v, want 42.5", got.PercentCut)
	}
	if got.OriginalDuration != nil || got.NewDuration != nil {
		t.Errorf("durations = %v/%v, want nil", got.OriginalDuration, got.NewDuration)
	}
}

func TestExtract_FullOutput(t *testing.T) {
	output := "Analyzing audio...\n" +
		"Original duration: 00:10.0\n" +
		"New duration: 00:07.5\n" +
		"Percent cut: 25.0%\n" +
		"Process completed successfully with code 0"

	got := Extract("clip.mp4", output)
	if got.OriginalDuration == nil || *got.OriginalDuration != "00:10.0" {
		t.Errorf("OriginalDuration = %v, want 00:10.0", got.OriginalDuration)
	}
	if got.NewDuration == nil || *got.NewDuration != "00:07.5" {
		t.Errorf("NewDuration = %v, want 00:07.5", got.NewDuration)
	}
	if got.PercentCut == nil || *got.PercentCut != 25.0 {
		t.Errorf("PercentCut = %v, want 25.0", got.PercentCut)
	}
}

func TestExtract_Tolerance(t *testing.T) {
	tests := []struct {
		name         string
		output       string
		wantOriginal string
		wantNew      string
		wantPercent  float64
		hasPercent   bool
	}{
		{"hours", "Original duration: 1:02:03.25 New duration: 0:59:00", "1:02:03.25", "0:59:00", 0, false},
		{"integer percent", "Percent cut: 7%", "", "", 7, true},
		{"first match wins", "Percent cut: 10% Percent cut: 90%", "", "", 10, true},
		{"missing percent sign", "Percent cut: 10", "", "", 0, false},
		{"garbage value", "Original duration: unknown", "", "", 0, false},
		{"label case matters", "original duration: 00:01.0", "", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract("f", tt.output)
			if s := deref(got.OriginalDuration); s != tt.wantOriginal {
				t.Errorf("OriginalDuration = %q, want %q", s, tt.wantOriginal)
			}
			if s := deref(got.NewDuration); s != tt.wantNew {
				t.Errorf("NewDuration = %q, want %q", s, tt.wantNew)
			}
			if (got.PercentCut != nil) != tt.hasPercent {
				t.Fatalf("PercentCut present = %v, want %v", got.PercentCut != nil, tt.hasPercent)
			}
			if tt.hasPercent && *got.PercentCut != tt.wantPercent {
				t.Errorf("PercentCut = %v, want %v", *got.PercentCut, tt.wantPercent)
			}
		})
	}
}

func TestTextExtractor_SatisfiesInterface(t *testing.T) {
	var e Extractor = TextExtractor{}
	if got := e.Extract("x", "Percent cut: 1.5%"); got.PercentCut == nil {
		t.Error("expected PercentCut via interface")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
