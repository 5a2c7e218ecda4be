package cli

import (
	"io"

	"github.com/jaa/course-relay/internal/source"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

type GlobalOptions struct {
	ConfigPath string
	User       string
	JSON       bool
	Quiet      bool
	Verbose    bool
	NoInput    bool
}

type AppContext struct {
	Build BuildInfo
	IO    IOStreams
	Opts  GlobalOptions

	// Credentials is filled by the root pre-run hook for commands that log
	// into the portal.
	Credentials source.Credentials
	// ResolveCredentials is swapped in tests.
	ResolveCredentials func(user string) (source.Credentials, error)
}
