package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/exitcode"
	"github.com/jaa/course-relay/internal/fileops"
	"github.com/jaa/course-relay/internal/pipeline"
	"github.com/jaa/course-relay/internal/session"
)

// targetUser is the user a status or cancel request is about. No portal token
// is needed for either.
func targetUser(app *AppContext) (string, error) {
	user := strings.TrimSpace(app.Opts.User)
	if user == "" {
		user = strings.TrimSpace(os.Getenv("CRELAY_PORTAL_USER"))
	}
	if user == "" {
		return "", withExitCode(exitcode.InvalidUsage, fmt.Errorf("pass --user or set CRELAY_PORTAL_USER"))
	}
	return user, nil
}

func newStatusCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest session status for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := targetUser(app)
			if err != nil {
				return err
			}
			cfg, err := loadValidConfig(app)
			if err != nil {
				return err
			}
			ctx := context.Background()
			registry, closeMirror, err := newRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			snap, ok, err := registry.Status(ctx, user)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("read session status: %w", err))
			}
			if app.Opts.JSON {
				payload := map[string]any{"found": ok}
				if ok {
					payload["session"] = snap
				}
				return json.NewEncoder(app.IO.Out).Encode(payload)
			}
			if !ok {
				fmt.Fprintf(app.IO.Out, "No session recorded for %s.\n", user)
				return nil
			}
			printSnapshot(app, snap)
			return nil
		},
	}
}

func printSnapshot(app *AppContext, snap session.Snapshot) {
	archive := "no"
	if snap.IncludeArchive {
		archive = "yes"
	}
	fmt.Fprintf(app.IO.Out, "Session %s for %s\n", snap.SessionID, snap.UserID)
	fmt.Fprintf(app.IO.Out, "State: %s (running: %t)\n", snap.State, snap.Running)
	fmt.Fprintf(app.IO.Out, "Chapters: %d/%d", snap.CompletedChapters, snap.TotalChapters)
	if snap.CurrentChapter != "" {
		fmt.Fprintf(app.IO.Out, " (current: %s)", snap.CurrentChapter)
	}
	fmt.Fprintln(app.IO.Out)
	fmt.Fprintf(app.IO.Out, "Range: %s | Archive: %s | Parallel: %d\n", snap.Range, archive, snap.Parallel)
	if snap.Error != "" {
		fmt.Fprintf(app.IO.Out, "Error: %s\n", snap.Error)
	}
	fmt.Fprintf(app.IO.Out, "Updated: %s\n", snap.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func newCancelCommand(app *AppContext) *cobra.Command {
	cleanup := false
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Ask a running session to stop after the current chapter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := targetUser(app)
			if err != nil {
				return err
			}
			cfg, err := loadValidConfig(app)
			if err != nil {
				return err
			}
			ctx := context.Background()
			registry, closeMirror, err := newRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			requested, err := registry.Cancel(ctx, user)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("request cancel: %w", err))
			}
			if requested {
				fmt.Fprintf(app.IO.Out, "Cancel requested for %s; the session stops before its next chapter.\n", user)
			} else {
				fmt.Fprintf(app.IO.Out, "No running session for %s.\n", user)
			}

			if cleanup {
				downloadDir, err := config.ExpandPath(cfg.Defaults.DownloadDir)
				if err != nil {
					return withExitCode(exitcode.InvalidConfig, err)
				}
				dir := pipeline.Layout{Root: downloadDir}.SessionDir(user)
				if err := fileops.RemoveTree(dir); err != nil {
					return withExitCode(exitcode.RuntimeFailure, err)
				}
				fmt.Fprintf(app.IO.Out, "Removed %s\n", dir)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Also remove the user's download directory")
	return cmd
}

func newParallelCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "parallel <n>",
		Short: "Change the download parallelism of a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || n < session.MinParallel || n > session.MaxParallel {
				return withExitCode(exitcode.InvalidUsage, fmt.Errorf("parallel must be a number between %d and %d, got %q", session.MinParallel, session.MaxParallel, args[0]))
			}
			user, err := targetUser(app)
			if err != nil {
				return err
			}
			cfg, err := loadValidConfig(app)
			if err != nil {
				return err
			}
			ctx := context.Background()
			registry, closeMirror, err := newRegistry(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeMirror()

			requested, err := registry.SetParallel(ctx, user, n)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("request parallel change: %w", err))
			}
			if requested {
				fmt.Fprintf(app.IO.Out, "Parallel downloads for %s set to %d; queued downloads start under the new bound.\n", user, n)
			} else {
				fmt.Fprintf(app.IO.Out, "No running session for %s.\n", user)
			}
			return nil
		},
	}
}
