package main

import (
	"fmt"
	"strings"
	"testing"

	"storyloom/internal/preflight"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Server", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Server:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Server", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestResultLines(t *testing.T) {
	lines := resultLines([]preflight.Result{
		{Name: "ffmpeg", Passed: true, Detail: "/usr/bin/ffmpeg"},
		{Name: "ffprobe", Optional: true, Detail: "not found"},
		{Name: "Gemini API", Detail: "key missing"},
	}, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for i, want := range []string{"[OK] /usr/bin/ffmpeg", "[WARN] not found", "[ERROR] key missing"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d: expected %q in %q", i, want, lines[i])
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]column{{header: "Slot"}, {header: "#", right: true}, {header: "State"}}, [][]string{{"keyframe", "1"}})
	for _, want := range []string{"SLOT", "keyframe", "1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}

func TestDescribeURI(t *testing.T) {
	if got := describeURI("https://example.test/a.mp4"); got != "https://example.test/a.mp4" {
		t.Fatalf("unexpected %q", got)
	}
	if got := describeURI("data:image/png;base64,%%%"); got != "inline data" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("a long lesson about sharing", 6); got != "a lon…" {
		t.Fatalf("unexpected truncate %q", got)
	}
}
