package ytdlp

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaa/course-relay/internal/engine"
)

const DefaultFragments = 32

type Options struct {
	Bin       string
	Fragments int
}

type Adapter struct {
	opts Options
}

func New(opts Options) *Adapter {
	if strings.TrimSpace(opts.Bin) == "" {
		opts.Bin = "yt-dlp"
	}
	if opts.Fragments <= 0 {
		opts.Fragments = DefaultFragments
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string {
	return "yt-dlp"
}

func (a *Adapter) Binary() string {
	return a.opts.Bin
}

func (a *Adapter) MinVersion() string {
	return "2023.01.06"
}

// Supports reports video only; documents go straight to the next backend.
func (a *Adapter) Supports(kind engine.ContentKind) bool {
	return kind == engine.KindVideo
}

func (a *Adapter) BuildExecSpec(req engine.FetchRequest) (engine.ExecSpec, error) {
	if !a.Supports(req.Kind) {
		return engine.ExecSpec{}, fmt.Errorf("yt-dlp: unsupported kind %q", req.Kind)
	}
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Dest) == "" {
		return engine.ExecSpec{}, fmt.Errorf("yt-dlp: url and destination are required")
	}

	args := []string{
		"-N", strconv.Itoa(a.opts.Fragments),
		"--no-check-certificate",
		"--no-warnings",
		"--no-part",
		"--force-overwrites",
		"--prefer-ffmpeg",
		"--hls-prefer-native",
		"--downloader-args", "ffmpeg:-nostats -loglevel 0",
		"-o", req.Dest,
		req.URL,
	}
	return engine.ExecSpec{
		Bin:            a.opts.Bin,
		Args:           args,
		Dir:            filepath.Dir(req.Dest),
		DisplayCommand: engine.FormatCommand(a.opts.Bin, args[:len(args)-1]),
	}, nil
}
