package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/exitcode"
	"github.com/jaa/course-relay/internal/pipeline"
	"github.com/jaa/course-relay/internal/session"
	"github.com/jaa/course-relay/internal/source"
)

const watchInterval = time.Second

type sessionFlags struct {
	Range     string
	Archive   bool
	Parallel  int
	Uploads   int
	Kinds     []string
	KeepFiles bool
}

func newRunCommand(app *AppContext) *cobra.Command {
	flags := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download every chapter and relay the files to the channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, app, flags, true)
		},
	}
	addSessionFlags(cmd, flags)
	cmd.Flags().IntVar(&flags.Uploads, "uploads", 0, "Parallel uploads (defaults to defaults.parallel_uploads)")
	cmd.Flags().BoolVar(&flags.KeepFiles, "keep-files", false, "Keep the session download directory after the run")
	return needsCredentials(cmd)
}

func newFetchCommand(app *AppContext) *cobra.Command {
	flags := &sessionFlags{KeepFiles: true}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download every chapter without relaying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, app, flags, false)
		},
	}
	addSessionFlags(cmd, flags)
	return needsCredentials(cmd)
}

func addSessionFlags(cmd *cobra.Command, flags *sessionFlags) {
	cmd.Flags().StringVarP(&flags.Range, "range", "r", "", "Inclusive chapter range, e.g. 3-7")
	cmd.Flags().BoolVar(&flags.Archive, "archive", true, "Include archive content types (defaults to defaults.include_archive)")
	cmd.Flags().IntVarP(&flags.Parallel, "parallel", "p", 0, "Parallel downloads 1-10 (defaults to defaults.parallel_downloads)")
	cmd.Flags().StringSliceVar(&flags.Kinds, "kinds", nil, "Content kinds to fetch: video, pdf")
}

// resolveSessionOptions merges flags over config and rejects bad input before
// a session is created.
func resolveSessionOptions(cmd *cobra.Command, cfg config.Config, flags *sessionFlags) (session.Range, bool, int, []engine.ContentKind, error) {
	var r session.Range
	if strings.TrimSpace(flags.Range) != "" {
		parsed, err := session.ParseRange(flags.Range)
		if err != nil {
			return r, false, 0, nil, withExitCode(exitcode.InvalidUsage, err)
		}
		r = parsed
	}

	includeArchive := cfg.Defaults.IncludeArchive
	if cmd.Flags().Changed("archive") {
		includeArchive = flags.Archive
	}

	parallel := cfg.Defaults.ParallelDownloads
	if cmd.Flags().Changed("parallel") {
		parallel = flags.Parallel
	}
	if parallel < session.MinParallel || parallel > session.MaxParallel {
		return r, false, 0, nil, withExitCode(exitcode.InvalidUsage, fmt.Errorf("--parallel must be between %d and %d, got %d", session.MinParallel, session.MaxParallel, parallel))
	}

	rawKinds := cfg.Defaults.ContentKinds
	if len(flags.Kinds) > 0 {
		rawKinds = flags.Kinds
	}
	kinds := make([]engine.ContentKind, 0, len(rawKinds))
	for _, raw := range rawKinds {
		kind, err := engine.ParseContentKind(raw)
		if err != nil {
			return r, false, 0, nil, withExitCode(exitcode.InvalidUsage, err)
		}
		kinds = append(kinds, kind)
	}
	return r, includeArchive, parallel, kinds, nil
}

func runSession(cmd *cobra.Command, app *AppContext, flags *sessionFlags, relayFiles bool) error {
	cfg, err := loadValidConfig(app)
	if err != nil {
		return err
	}
	chapterRange, includeArchive, parallel, kinds, err := resolveSessionOptions(cmd, cfg, flags)
	if err != nil {
		return err
	}
	uploads := cfg.Defaults.ParallelUploads
	if flags.Uploads > 0 {
		uploads = flags.Uploads
	}

	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals()...)
	defer stop()

	emitter, closeEmitter := newEmitter(app, cfg)
	defer closeEmitter()

	registry, closeMirror, err := newRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMirror()

	s, err := registry.Start(ctx, session.Options{
		UserID:         app.Credentials.User,
		Credentials:    app.Credentials,
		Range:          chapterRange,
		IncludeArchive: includeArchive,
		Parallel:       parallel,
	})
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			return withExitCode(exitcode.AlreadyRunning, fmt.Errorf("%w: use `crelay cancel` or wait for it to finish", err))
		}
		return withExitCode(exitcode.RuntimeFailure, err)
	}
	defer registry.Finish(context.Background(), s)

	st, err := buildStack(ctx, app, cfg, s, emitter, stackOptions{
		Relay:   relayFiles,
		Cleanup: !flags.KeepFiles,
		Uploads: uploads,
		Kinds:   kinds,
	})
	if err != nil {
		s.Fail(err)
		return withExitCode(exitcode.RuntimeFailure, err)
	}
	defer st.Close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go registry.Watch(watchCtx, s, watchInterval)

	result, runErr := st.Controller.Run(ctx, s)
	return sessionExit(result, runErr)
}

func sessionExit(result pipeline.Result, runErr error) error {
	switch {
	case result.State == session.StateCancelled:
		return withExitCode(exitcode.Interrupted, fmt.Errorf("session cancelled after %d/%d chapters", result.Processed, result.Chapters))
	case errors.Is(runErr, source.ErrAuthentication):
		return withExitCode(exitcode.InvalidUsage, runErr)
	case runErr != nil:
		return withExitCode(exitcode.SessionFailed, runErr)
	case result.PermanentFailures() > 0:
		return withExitCode(exitcode.PartialSuccess, fmt.Errorf("session finished with %d permanent item failure(s)", result.PermanentFailures()))
	}
	return nil
}
