package fetcher

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line    string
		ok      bool
		percent float64
		rate    string
		eta     string
	}{
		{"[download]  42.0% of ~ 3.10MiB at 1.2MiB/s ETA 00:03", true, 42, "1.2MiB/s", "00:03"},
		{"[download] 100% of    3.10MiB in 00:00:01 at 2.50MiB/s", true, 100, "2.50MiB/s", ""},
		{"[download]   0.1% of ~  10.00MiB at  Unknown B/s ETA Unknown (frag 0/3)", true, 0.1, "", ""},
		{"[download] Destination: /tmp/x.webm", false, 0, "", ""},
		{"[download] 250% of 1MiB", false, 0, "", ""},
		{"", false, 0, "", ""},
	}
	for _, tt := range tests {
		update, ok := ParseProgress(tt.line)
		if ok != tt.ok {
			t.Fatalf("ParseProgress(%q) ok=%v, want %v", tt.line, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if update.Percent != tt.percent || update.Rate != tt.rate || update.ETA != tt.eta {
			t.Fatalf("ParseProgress(%q) = %+v", tt.line, update)
		}
	}
}

func TestCleanDiagnostic(t *testing.T) {
	if got := CleanDiagnostic("  ERROR: [generic] Unable to download webpage "); got != "[generic] Unable to download webpage" {
		t.Fatalf("unexpected diagnostic %q", got)
	}
	if got := CleanDiagnostic("plain"); got != "plain" {
		t.Fatalf("unexpected diagnostic %q", got)
	}
}

func TestFindRawFileSkipsSideFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, size int) {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("tonearm-a.raw.webm.part", 500)
	write("tonearm-a.raw.jpg", 400)
	write("tonearm-a.raw.m4a", 100)
	write("tonearm-b.raw.opus", 900)

	got, err := FindRawFile(dir, "tonearm-a")
	if err != nil {
		t.Fatalf("FindRawFile: %v", err)
	}
	if filepath.Base(got) != "tonearm-a.raw.m4a" {
		t.Fatalf("unexpected raw file %q", got)
	}
}
