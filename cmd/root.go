package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/iris-sync/cmd/check"
	"github.com/sidkik/iris-sync/cmd/run"
	"github.com/sidkik/iris-sync/cmd/util"
	"github.com/sidkik/iris-sync/cmd/version"
)

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(util.VerboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "iris-sync",
		Short:        "Copy source items from an IRIS server to a local directory tree",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		check.New(),
		run.New(),
		version.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
