// Package snapshot implements the single pass command.
package snapshot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/printfarm/enclosure-cam/cmd/output"
	"github.com/printfarm/enclosure-cam/internal/app"
)

// Command creates the snapshot command.
func Command(rt *app.Runtime) *cobra.Command {
	var register bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one capture pass over every enclosure and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OneShot()
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.RunOnce(cmd.Context(), register)

			var rows [][]string
			for _, enc := range report.Enclosures {
				if !enc.Online {
					rows = append(rows, []string{enc.Name, "-", "printer offline"})
					continue
				}
				for _, cam := range enc.Cameras {
					result := "uploaded"
					if !cam.Success {
						result = cam.Error
					}
					rows = append(rows, []string{enc.Name, cam.Camera, result})
				}
			}
			if err := output.Table(cmd.OutOrStdout(), []string{"Enclosure", "Camera", "Result"}, rows); err != nil {
				return err
			}

			if report.Failed > 0 {
				return fmt.Errorf("%d of %d snapshots failed", report.Failed, report.Failed+report.Uploaded)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&register, "register", false, "Register cameras with Prusa Connect before capturing")
	return cmd
}
