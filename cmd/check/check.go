package check

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidkik/iris-sync/cmd/util"
	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/config"
	"github.com/sidkik/iris-sync/pkg/match"
)

// New creates a new `check` command. It validates the configuration and
// verifies that the server is reachable, without writing anything.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config.toml>",
		Short: "Validate the configuration and probe the server",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := check(args[0]); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func check(configPath string) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return err
	}

	set, err := match.Compile(cfg.Project.Items)
	if err != nil {
		return err
	}

	session, err := atelier.NewSession(atelier.Server{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Namespace: cfg.Server.Namespace,
		User:      cfg.Server.User,
		Password:  cfg.Server.Password,
		HTTPS:     cfg.Server.HTTPS,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Probe(context.Background()); err != nil {
		return err
	}

	fmt.Printf("Configuration OK; server reachable. Item types: %v\n", set.Types())
	return nil
}
