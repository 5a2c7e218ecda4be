package ytdlp

import (
	"slices"
	"testing"

	"github.com/jaa/course-relay/internal/engine"
)

func TestSupportsVideoOnly(t *testing.T) {
	adapter := New(Options{})
	if !adapter.Supports(engine.KindVideo) {
		t.Fatalf("expected video support")
	}
	if adapter.Supports(engine.KindPDF) {
		t.Fatalf("expected pdf to be unsupported")
	}
	if _, err := adapter.BuildExecSpec(engine.FetchRequest{URL: "https://x", Dest: "a.pdf", Kind: engine.KindPDF}); err == nil {
		t.Fatalf("expected error building spec for pdf")
	}
}

func TestBuildExecSpecUsesConfiguredFragments(t *testing.T) {
	spec, err := New(Options{Bin: "/opt/yt-dlp", Fragments: 8}).BuildExecSpec(engine.FetchRequest{
		URL:  "https://stream.example.com/master.m3u8",
		Dest: "/tmp/out/Lecture.mp4",
		Kind: engine.KindVideo,
	})
	if err != nil {
		t.Fatalf("build exec spec: %v", err)
	}
	if spec.Bin != "/opt/yt-dlp" {
		t.Fatalf("unexpected bin %s", spec.Bin)
	}
	n := slices.Index(spec.Args, "-N")
	if n < 0 || spec.Args[n+1] != "8" {
		t.Fatalf("expected -N 8, got %v", spec.Args)
	}
	o := slices.Index(spec.Args, "-o")
	if o < 0 || spec.Args[o+1] != "/tmp/out/Lecture.mp4" {
		t.Fatalf("expected output path, got %v", spec.Args)
	}
}
