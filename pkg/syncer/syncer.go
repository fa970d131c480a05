// Package syncer drives the end-to-end sync: probe the server, list the
// matching items, retrieve and save them (serially or through a worker
// pool), and run the optional auxiliary exports.
package syncer

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/catalog"
	"github.com/sidkik/iris-sync/pkg/config"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/export"
	"github.com/sidkik/iris-sync/pkg/match"
	"github.com/sidkik/iris-sync/pkg/retrieve"
	"github.com/sidkik/iris-sync/pkg/store"
)

// deployableSettingsItem is the server-side name of the deployable settings
// export.
const deployableSettingsItem = "Ens.Config.DefaultSettings.esd"

// Syncer holds the collaborators for one sync run.
type Syncer struct {
	cfg       *config.Config
	manager   *atelier.SessionManager
	fetcher   catalog.Fetcher
	retriever retrieve.Retriever
	writer    store.Writer
}

// New compiles the project specifications and assembles a Syncer. A spec
// without an extension is reported here, before anything touches the
// network.
func New(cfg *config.Config) (*Syncer, error) {
	set, err := match.Compile(cfg.Project.Items)
	if err != nil {
		return nil, err
	}

	server := atelier.Server{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Namespace: cfg.Server.Namespace,
		User:      cfg.Server.User,
		Password:  cfg.Server.Password,
		HTTPS:     cfg.Server.HTTPS,
	}

	return &Syncer{
		cfg:     cfg,
		manager: atelier.NewSessionManager(server),
		fetcher: catalog.Fetcher{
			Set:              set,
			IncludeMapped:    cfg.Project.Mapped,
			IncludeGenerated: cfg.Project.Generated,
		},
		retriever: retrieve.Retriever{Compatibility: cfg.Local.Compatibility},
		writer: store.Writer{
			SourceDir:    cfg.SourceDir,
			CSPDir:       cfg.CSPDir,
			DataDir:      cfg.DataDir,
			Subdirs:      cfg.Local.Subdirs,
			EncodingName: cfg.Local.Encoding,
			Encoding:     cfg.Encoding,
		},
	}, nil
}

// Run performs the sync and returns the number of items written (primary
// items plus auxiliary exports). The first error aborts the remaining work.
func (s *Syncer) Run(ctx context.Context) (int, error) {
	main, err := s.manager.NewSession()
	if err != nil {
		return 0, err
	}
	defer main.Close()

	// Reuse a persisted login session if we talked to this server recently.
	if s.cfg.Local.Cookies {
		if err := atelier.LoadCookies(main, s.cfg.CookieFile); err != nil {
			log.WithError(err).Warn("Ignoring unreadable cookie file")
		}
	}

	if err := main.Probe(ctx); err != nil {
		return 0, err
	}

	// Persist the login state as soon as it's established, so the next run
	// can reuse it even when this one fails further down.
	if s.cfg.Local.Cookies {
		if err := atelier.SaveCookies(main, s.cfg.CookieFile); err != nil {
			log.WithError(err).Warn("Failed to persist session cookies")
		}
	}

	// Workers inherit the main session's login state.
	s.manager.Seed(main.Cookies())

	// Install the export helper procedure when the configuration asks for
	// auxiliary exports. Releasing is deferred immediately so the helper is
	// removed on every exit path, including failures of later phases.
	var handle *export.Handle
	wantSettings := s.cfg.Project.EnsSettings.Name != ""
	wantLookup := len(s.cfg.Project.Lookup) > 0
	if wantSettings || wantLookup {
		if handle, err = export.Acquire(ctx, main); err != nil {
			return 0, err
		}
		defer handle.Release(context.WithoutCancel(ctx))
	}

	items, err := s.fetcher.Fetch(ctx, main)
	if err != nil {
		return 0, err
	}

	if err := s.saveAll(ctx, main, items); err != nil {
		return 0, err
	}
	count := len(items)

	if wantSettings {
		n, err := s.saveDeployableSettings(ctx, handle)
		if err != nil {
			return 0, err
		}
		count += n
	}
	if wantLookup {
		n, err := s.saveLookupTables(ctx, handle)
		if err != nil {
			return 0, err
		}
		count += n
	}

	return count, nil
}

// saveAll retrieves and writes all items, serially for a single configured
// thread, through a worker pool otherwise.
func (s *Syncer) saveAll(ctx context.Context, main *atelier.Session, items []atelier.Item) error {
	if s.cfg.Server.Threads <= 1 {
		for _, item := range items {
			if err := s.saveItem(ctx, main, item); err != nil {
				return err
			}
		}
		return nil
	}
	return s.savePool(ctx, items)
}

// savePool fans the items out over Threads workers. Each worker owns one
// session, created lazily on its first item and closed when the worker
// finishes: the underlying HTTP client's connection and cookie state is not
// safe for sharing across goroutines. The first failure cancels the group;
// the remaining workers stop picking up new work and the error surfaces.
func (s *Syncer) savePool(ctx context.Context, items []atelier.Item) error {
	group, ctx := errgroup.WithContext(ctx)
	work := make(chan atelier.Item)

	group.Go(func() error {
		defer close(work)
		for _, item := range items {
			select {
			case work <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < s.cfg.Server.Threads; i++ {
		group.Go(func() error {
			var session *atelier.Session
			defer func() {
				if session != nil {
					session.Close()
				}
			}()

			for item := range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				if session == nil {
					var err error
					if session, err = s.manager.NewSession(); err != nil {
						return err
					}
				}
				if err := s.saveItem(ctx, session, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return group.Wait()
}

// saveItem retrieves one item and writes it to disk.
func (s *Syncer) saveItem(ctx context.Context, session *atelier.Session, item atelier.Item) error {
	log.Infof("Retrieving and saving %s", item.Name)

	content, err := s.retriever.Retrieve(ctx, session, item)
	if err != nil {
		return err
	}

	if _, err := s.writer.Write(item, content); err != nil {
		return err
	}
	return nil
}

// saveDeployableSettings exports the deployable settings and writes them
// under the data directory. An empty export is skipped, not an error.
func (s *Syncer) saveDeployableSettings(ctx context.Context, handle *export.Handle) (int, error) {
	log.Infof("Retrieving and saving %s", deployableSettingsItem)

	data, err := handle.Export(ctx, deployableSettingsItem)
	if err != nil {
		return 0, errors.WithContext(err, "export deployable settings")
	}
	if data == "" {
		return 0, nil
	}

	stripped, err := export.StripVolatile(data, s.cfg.Project.EnsSettings.Strip)
	if err != nil {
		return 0, err
	}

	if _, err := s.writer.WriteData(s.cfg.Project.EnsSettings.Name, stripped); err != nil {
		return 0, err
	}
	return 1, nil
}

// saveLookupTables enumerates and exports the lookup tables matching the
// configured specs. Tables without data are skipped with a log line.
func (s *Syncer) saveLookupTables(ctx context.Context, handle *export.Handle) (int, error) {
	log.Info("Loading list of lookup tables")

	tables, err := handle.ListLookupTables(ctx, s.cfg.Project.Lookup)
	if err != nil {
		return 0, err
	}
	if len(tables) == 0 {
		log.Info("No data lookup tables matching the specifications found.")
		return 0, nil
	}

	count := 0
	for _, table := range tables {
		wire, file := export.NormalizeTableName(table)
		log.Infof("Retrieving and saving %s", wire)

		data, err := handle.Export(ctx, wire)
		if err != nil {
			return count, errors.WithContext(err, "export lookup table")
		}
		if data == "" {
			log.Infof("  %s contains no data, skipping.", wire)
			continue
		}

		stripped, err := export.StripVolatile(data, false)
		if err != nil {
			return count, err
		}
		if _, err := s.writer.WriteData(file, stripped); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
