package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/iris-sync/cmd/util"
	"github.com/sidkik/iris-sync/pkg/config"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/syncer"
)

// New creates a new `run` command.
func New() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run <config.toml>",
		Short: "Sync the configured items from the server to disk",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := runSync(args[0], quiet); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false,
		"Do not print the completion summary.")
	return cmd
}

func runSync(configPath string, quiet bool) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return err
	}

	if err := util.SetupLogging(cfg.LogFile); err != nil {
		return err
	}
	if os.Getenv(util.VerboseLogKey) != "true" {
		log.SetLevel(cfg.LogLevel)
	}

	// The log appends; create visible separation for this run.
	log.Infof("===== Starting sync at %s", time.Now().Format("2006-01-02 15:04:05"))

	s, err := syncer.New(cfg)
	if err != nil {
		return err
	}

	// An interrupt cancels the in-flight requests and aborts the batch.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	count, err := s.Run(ctx)
	if err != nil {
		return errors.WithContext(err, "sync")
	}

	log.Infof("Copied %d items.", count)
	if !quiet {
		fmt.Printf("Copied %d items.\n", count)
	}
	return nil
}
