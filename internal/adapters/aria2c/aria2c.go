package aria2c

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaa/course-relay/internal/engine"
)

const (
	DefaultConnections = 16
	DefaultSplit       = 32
	DefaultMaxTries    = 5
	DefaultRetryWait   = 5
)

type Options struct {
	Bin         string
	Connections int
	Split       int
	MaxTries    int
	RetryWait   int
}

type Adapter struct {
	opts Options
}

func New(opts Options) *Adapter {
	if strings.TrimSpace(opts.Bin) == "" {
		opts.Bin = "aria2c"
	}
	if opts.Connections <= 0 {
		opts.Connections = DefaultConnections
	}
	if opts.Split <= 0 {
		opts.Split = DefaultSplit
	}
	if opts.MaxTries <= 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.RetryWait < 0 {
		opts.RetryWait = DefaultRetryWait
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string {
	return "aria2c"
}

func (a *Adapter) Binary() string {
	return a.opts.Bin
}

func (a *Adapter) MinVersion() string {
	return "1.35.0"
}

func (a *Adapter) Supports(kind engine.ContentKind) bool {
	return kind == engine.KindVideo || kind == engine.KindPDF
}

func (a *Adapter) BuildExecSpec(req engine.FetchRequest) (engine.ExecSpec, error) {
	if strings.TrimSpace(req.URL) == "" {
		return engine.ExecSpec{}, fmt.Errorf("aria2c: empty url")
	}
	if strings.TrimSpace(req.Dest) == "" {
		return engine.ExecSpec{}, fmt.Errorf("aria2c: empty destination")
	}

	dir, name := filepath.Split(req.Dest)
	if dir == "" {
		dir = "."
	}
	perServer := a.opts.Connections
	if perServer > 16 {
		perServer = 16
	}

	head := []string{
		"--file-allocation=none",
		"-j", strconv.Itoa(a.opts.Split),
		"-s", strconv.Itoa(a.opts.Split),
		"-x", strconv.Itoa(perServer),
		"--min-split-size=1M",
		"--max-connection-per-server=" + strconv.Itoa(perServer),
		"--max-tries=" + strconv.Itoa(a.opts.MaxTries),
		"--retry-wait=" + strconv.Itoa(a.opts.RetryWait),
		"--check-certificate=false",
		"--continue=true",
		"--auto-file-renaming=false",
		"--allow-overwrite=true",
		"--console-log-level=warn",
		"--dir", filepath.Clean(dir),
		"-o", name,
	}
	args := append(append([]string{}, head...), req.URL)
	displayArgs := append(append([]string{}, head...), sanitizeURL(req.URL))

	return engine.ExecSpec{
		Bin:            a.opts.Bin,
		Args:           args,
		Dir:            filepath.Clean(dir),
		DisplayCommand: engine.FormatCommand(a.opts.Bin, displayArgs),
	}, nil
}

// sanitizeURL drops signed query strings so they never reach logs.
func sanitizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "***"
	}
	return parsed.String()
}
