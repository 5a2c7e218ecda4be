package engine

import (
	"fmt"
	"strings"
	"time"
)

type ContentKind string

const (
	KindVideo ContentKind = "video"
	KindPDF   ContentKind = "pdf"
)

func (k ContentKind) Extension() string {
	if k == KindPDF {
		return ".pdf"
	}
	return ".mp4"
}

func ParseContentKind(raw string) (ContentKind, error) {
	switch ContentKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindVideo:
		return KindVideo, nil
	case KindPDF:
		return KindPDF, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", raw)
	}
}

type ExecSpec struct {
	Bin            string
	Args           []string
	Dir            string
	Env            []string
	Timeout        time.Duration
	DisplayCommand string
}

type ExecResult struct {
	ExitCode    int
	Duration    time.Duration
	Interrupted bool
	TimedOut    bool
	StdoutTail  string
	StderrTail  string
	Err         error
}

// FetchRequest describes one transfer handed to a subprocess tool.
type FetchRequest struct {
	URL  string
	Dest string
	Kind ContentKind
}

// Adapter turns a fetch request into an external tool invocation.
type Adapter interface {
	Name() string
	Binary() string
	MinVersion() string
	Supports(kind ContentKind) bool
	BuildExecSpec(req FetchRequest) (ExecSpec, error)
}

func FormatCommand(bin string, args []string) string {
	parts := []string{bin}
	for _, arg := range args {
		if strings.ContainsAny(arg, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", arg))
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}
