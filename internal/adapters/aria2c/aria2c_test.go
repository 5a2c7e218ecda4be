package aria2c

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jaa/course-relay/internal/engine"
)

func TestBuildExecSpecSplitsDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "Chapter 1", "Marathon", "Intro.mp4")
	spec, err := New(Options{}).BuildExecSpec(engine.FetchRequest{
		URL:  "https://cdn.example.com/v/1.mp4?token=secret",
		Dest: dest,
		Kind: engine.KindVideo,
	})
	if err != nil {
		t.Fatalf("build exec spec: %v", err)
	}

	dirIndex := slices.Index(spec.Args, "--dir")
	if dirIndex < 0 || spec.Args[dirIndex+1] != filepath.Dir(dest) {
		t.Fatalf("expected --dir %s, got %v", filepath.Dir(dest), spec.Args)
	}
	outIndex := slices.Index(spec.Args, "-o")
	if outIndex < 0 || spec.Args[outIndex+1] != "Intro.mp4" {
		t.Fatalf("expected -o Intro.mp4, got %v", spec.Args)
	}
	if spec.Args[len(spec.Args)-1] != "https://cdn.example.com/v/1.mp4?token=secret" {
		t.Fatalf("expected url as last arg, got %v", spec.Args)
	}
	if strings.Contains(spec.DisplayCommand, "secret") {
		t.Fatalf("expected redacted display command, got %s", spec.DisplayCommand)
	}
}

func TestBuildExecSpecCapsPerServerConnections(t *testing.T) {
	spec, err := New(Options{Connections: 32}).BuildExecSpec(engine.FetchRequest{URL: "https://x/y.pdf", Dest: "y.pdf", Kind: engine.KindPDF})
	if err != nil {
		t.Fatalf("build exec spec: %v", err)
	}
	if !slices.Contains(spec.Args, "--max-connection-per-server=16") {
		t.Fatalf("expected per-server cap of 16, got %v", spec.Args)
	}
}

func TestBuildExecSpecRejectsEmptyURL(t *testing.T) {
	if _, err := New(Options{}).BuildExecSpec(engine.FetchRequest{Dest: "a.mp4"}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
