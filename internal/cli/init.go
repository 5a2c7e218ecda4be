package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaa/course-relay/internal/config"
	"github.com/jaa/course-relay/internal/exitcode"
	"github.com/jaa/course-relay/internal/source"
)

func newInitCommand(app *AppContext) *cobra.Command {
	force := false

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create starter config, course manifest, and working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(app.Opts.ConfigPath)
			if path == "" {
				userPath, err := config.UserConfigPath()
				if err != nil {
					return withExitCode(exitcode.RuntimeFailure, err)
				}
				path = userPath
			}

			if err := config.EnsureConfigDir(path); err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}

			if _, err := os.Stat(path); err == nil && !force {
				if app.Opts.NoInput || !isTTY(os.Stdin) {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("config already exists at %s (rerun with --force)", path))
				}
				confirmed, confirmErr := promptYesNo(app, fmt.Sprintf("Config already exists at %s. Overwrite?", path))
				if confirmErr != nil {
					return withExitCode(exitcode.RuntimeFailure, confirmErr)
				}
				if !confirmed {
					fmt.Fprintln(app.IO.Out, "Initialization canceled.")
					return nil
				}
			}

			if err := os.WriteFile(path, []byte(config.DefaultTemplate()), 0o644); err != nil {
				return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("write config file: %w", err))
			}
			fmt.Fprintf(app.IO.Out, "Wrote config: %s\n", path)

			defaults := config.DefaultConfig().Defaults
			for _, raw := range []string{defaults.StateDir, defaults.DownloadDir} {
				dir, err := config.ExpandPath(raw)
				if err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("resolve directory: %w", err))
				}
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("create directory %s: %w", dir, err))
				}
				fmt.Fprintf(app.IO.Out, "Ensured dir: %s\n", dir)
			}

			manifest, err := config.ExpandPath("~/crelay/courses.yaml")
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}
			if _, err := os.Stat(manifest); errors.Is(err, os.ErrNotExist) {
				if err := os.MkdirAll(filepath.Dir(manifest), 0o755); err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("create manifest directory: %w", err))
				}
				if err := os.WriteFile(manifest, []byte(source.ManifestTemplate), 0o644); err != nil {
					return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("write manifest: %w", err))
				}
				fmt.Fprintf(app.IO.Out, "Wrote starter manifest: %s\n", manifest)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	return cmd
}

func promptYesNo(app *AppContext, prompt string) (bool, error) {
	fmt.Fprintf(app.IO.Out, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(app.IO.In)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	response := strings.ToLower(strings.TrimSpace(line))
	return response == "y" || response == "yes", nil
}
