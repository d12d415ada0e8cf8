// Package probe implements the printer availability command.
package probe

import (
	"github.com/spf13/cobra"

	"github.com/printfarm/enclosure-cam/cmd/output"
	"github.com/printfarm/enclosure-cam/internal/app"
	"github.com/printfarm/enclosure-cam/internal/prober"
)

// Command creates the probe command.
func Command(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check which printers are online",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.OneShot()
			if err != nil {
				return err
			}
			defer a.Close()

			rows := make([][]string, 0, len(a.Enclosures))
			for _, enc := range a.Enclosures {
				res := a.Prober.Check(cmd.Context(), enc.Name, enc.Probe)
				rows = append(rows, []string{enc.Name, orDash(enc.Probe.Address), status(res), orDash(res.State)})
			}
			return output.Table(cmd.OutOrStdout(), []string{"Enclosure", "Address", "Status", "State"}, rows)
		},
	}
}

func status(res prober.Result) string {
	switch {
	case res.Skipped:
		return "not checked"
	case res.Online:
		return "online"
	case res.Err != nil:
		return "offline (" + res.Err.Error() + ")"
	default:
		return "offline"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
