package main

import (
	"context"
	"fmt"
	"os"

	"github.com/printfarm/enclosure-cam/cmd"
	"github.com/printfarm/enclosure-cam/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	rootCmd := cmd.RootCommand(buildinfo.NewContext(version, buildDate))
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
