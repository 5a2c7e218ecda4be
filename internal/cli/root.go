package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaa/course-relay/internal/auth"
	"github.com/jaa/course-relay/internal/exitcode"
)

const annotationNeedsCredentials = "crelay/needs-credentials"

func Execute(build BuildInfo, streams IOStreams) int {
	if wd, err := os.Getwd(); err == nil {
		if envErr := loadDotEnvFiles(wd, os.Environ(), os.Setenv); envErr != nil {
			fmt.Fprintln(streams.ErrOut, "WARN:", envErr)
		}
	}

	app := &AppContext{Build: build, IO: streams, ResolveCredentials: auth.ResolvePortalCredentials}
	root := newRootCommand(app)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(streams.ErrOut, "ERROR:", err)
		return mapExitCode(err)
	}
	return exitcode.Success
}

func newRootCommand(app *AppContext) *cobra.Command {
	showVersion := false

	root := &cobra.Command{
		Use:   "crelay",
		Short: "Download course videos and notes and relay them to a channel",
		Long:  "crelay walks a course portal chapter by chapter, downloads every video and PDF with parallel backends, and relays the files to a messaging channel.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(app)
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return requireCredentials(app, cmd)
		},
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	defaultConfigPath := os.Getenv("CRELAY_CONFIG")
	root.PersistentFlags().StringVarP(&app.Opts.ConfigPath, "config", "c", defaultConfigPath, "Path to config file")
	root.PersistentFlags().StringVarP(&app.Opts.User, "user", "u", "", "Portal user (defaults to CRELAY_PORTAL_USER)")
	root.PersistentFlags().BoolVar(&app.Opts.JSON, "json", false, "Emit newline-delimited JSON events")
	root.PersistentFlags().BoolVarP(&app.Opts.Quiet, "quiet", "q", false, "Reduce output to errors and summary")
	root.PersistentFlags().BoolVarP(&app.Opts.Verbose, "verbose", "v", false, "Increase diagnostic output")
	root.PersistentFlags().BoolVar(&app.Opts.NoInput, "no-input", false, "Disable interactive prompts")
	root.Flags().BoolVar(&showVersion, "version", false, "Print version info")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withExitCode(exitcode.InvalidUsage, err)
	})

	root.AddCommand(newInitCommand(app))
	root.AddCommand(newValidateCommand(app))
	root.AddCommand(newDoctorCommand(app))
	root.AddCommand(newRunCommand(app))
	root.AddCommand(newFetchCommand(app))
	root.AddCommand(newStatusCommand(app))
	root.AddCommand(newParallelCommand(app))
	root.AddCommand(newCancelCommand(app))
	root.AddCommand(newVersionCommand(app))

	return root
}

// requireCredentials rejects portal commands before any work starts when no
// login can be found.
func requireCredentials(app *AppContext, cmd *cobra.Command) error {
	if _, ok := cmd.Annotations[annotationNeedsCredentials]; !ok {
		return nil
	}
	resolve := app.ResolveCredentials
	if resolve == nil {
		resolve = auth.ResolvePortalCredentials
	}
	creds, err := resolve(app.Opts.User)
	if err != nil {
		if errors.Is(err, auth.ErrPortalUserMissing) {
			return withExitCode(exitcode.InvalidUsage, fmt.Errorf("%w: pass --user or set CRELAY_PORTAL_USER", err))
		}
		return withExitCode(exitcode.InvalidUsage, fmt.Errorf("%w: set CRELAY_PORTAL_TOKEN or store it in the keychain", err))
	}
	app.Credentials = creds
	app.Opts.User = creds.User
	return nil
}

func needsCredentials(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[annotationNeedsCredentials] = "true"
	return cmd
}

func printVersion(app *AppContext) {
	version := app.Build.Version
	if version == "" {
		version = "dev"
	}
	commit := app.Build.Commit
	if commit == "" {
		commit = "unknown"
	}
	date := app.Build.Date
	if date == "" {
		date = "unknown"
	}

	fmt.Fprintf(app.IO.Out, "crelay version %s\ncommit: %s\nbuild_date: %s\n", version, commit, date)
}
