// Package config implements commands that inspect the configuration.
package config

import (
	"github.com/spf13/cobra"

	"github.com/printfarm/enclosure-cam/internal/app"
)

// Command creates the config command group.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := rt.Settings.RedactedYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Println("configuration is valid")
			return nil
		},
	})

	return cmd
}
