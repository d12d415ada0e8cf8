// Package register implements the camera registration command.
package register

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/printfarm/enclosure-cam/internal/app"
	"github.com/printfarm/enclosure-cam/internal/enclosure"
)

// Command creates the register command.
func Command(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register every configured camera with Prusa Connect",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OneShot()
			if err != nil {
				return err
			}
			defer a.Close()

			total := enclosure.CameraCount(a.Enclosures)
			failed := a.Orchestrator.RegisterCameras(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d of %d cameras\n", total-failed, total)
			if failed > 0 {
				return fmt.Errorf("%d cameras failed to register", failed)
			}
			return nil
		},
	}
}
