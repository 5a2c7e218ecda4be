package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the merged config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadValidConfig(app)
			if err != nil {
				return err
			}

			if app.Opts.JSON {
				payload := map[string]any{
					"valid":    true,
					"relay":    cfg.Relay.Kind,
					"manifest": cfg.Source.Manifest,
					"parallel": cfg.Defaults.ParallelDownloads,
					"uploads":  cfg.Defaults.ParallelUploads,
					"redis":    cfg.Registry.RedisAddr != "",
					"amqp":     cfg.Events.AMQPURL != "",
					"kinds":    cfg.Defaults.ContentKinds,
				}
				encoded, _ := json.Marshal(payload)
				fmt.Fprintln(app.IO.Out, string(encoded))
			} else {
				fmt.Fprintln(app.IO.Out, "Config is valid.")
			}
			return nil
		},
	}
}
