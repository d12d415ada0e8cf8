package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/printfarm/enclosure-cam/cmd/config"
	"github.com/printfarm/enclosure-cam/cmd/probe"
	"github.com/printfarm/enclosure-cam/cmd/register"
	"github.com/printfarm/enclosure-cam/cmd/run"
	"github.com/printfarm/enclosure-cam/cmd/snapshot"
	"github.com/printfarm/enclosure-cam/internal/app"
	"github.com/printfarm/enclosure-cam/internal/buildinfo"
	"github.com/printfarm/enclosure-cam/internal/conf"
	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(info buildinfo.BuildInfo) *cobra.Command {
	rt := &app.Runtime{Info: info}

	rootCmd := &cobra.Command{
		Use:           "enclosure-cam",
		Short:         "Printer enclosure snapshots for Prusa Connect",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, rt); err != nil {
		panic(err)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
		},
	}

	rootCmd.AddCommand(
		run.Command(rt),
		register.Command(rt),
		probe.Command(rt),
		snapshot.Command(rt),
		configcmd.Command(rt),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(rt)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if rt.Logger != nil {
			_ = rt.Logger.Close()
		}
	}

	return rootCmd
}

// initialize loads the configuration, sets up logging and, when enabled,
// error reporting. Command line flags take precedence over the file.
func initialize(rt *app.Runtime) error {
	settings, err := conf.Load(rt.ConfigPath)
	if err != nil {
		return err
	}
	rt.Settings = settings

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger.SetGlobal(cl)
	rt.Logger = cl

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, rt.Info.Version(), settings.Debug); err != nil {
			cl.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}

	cl.Module("main").Debug("configuration loaded", logger.String("version", rt.Info.Version()))
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, rt *app.Runtime) error {
	rootCmd.PersistentFlags().StringVarP(&rt.ConfigPath, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
