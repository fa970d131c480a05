// Package catalog builds the list of items to sync by querying the server's
// listing endpoints and filtering the results through the project's item
// specifications.
package catalog

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/match"
)

// errUnknownItemType is the server-side error code reported when a listing
// is requested for an item type the server doesn't know.
const errUnknownItemType = 16004

// Fetcher lists candidate items and filters them.
type Fetcher struct {
	// Set selects the items to sync; it also determines which item types
	// are queried.
	Set *match.Set

	// IncludeMapped keeps items from system (mapped) databases.
	IncludeMapped bool

	// IncludeGenerated keeps generated items.
	IncludeGenerated bool
}

// Fetch queries the server for every item type the spec set covers, and
// returns the matching items. The result is unordered and built
// single-threaded; callers treat it as read-only afterwards.
func (f Fetcher) Fetch(ctx context.Context, session *atelier.Session) ([]atelier.Item, error) {
	var items []atelier.Item
	for _, itemType := range f.Set.Types() {
		var err error
		if itemType == "csp" {
			items, err = f.fetchCSP(ctx, session, items)
		} else {
			items, err = f.fetchType(ctx, session, itemType, items)
		}
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// fetchType lists all items of one type through the bulk-modified endpoint
// and appends the matching ones to items.
func (f Fetcher) fetchType(ctx context.Context, session *atelier.Session,
	itemType string, items []atelier.Item) ([]atelier.Item, error) {

	log.Infof("Retrieving available items of type %s", itemType)

	dbs, err := session.ModifiedItems(ctx, itemType, f.IncludeGenerated)
	if err != nil {
		var protocolErr atelier.ProtocolError
		if errors.As(err, &protocolErr) && protocolErr.Code() == errUnknownItemType {
			return nil, errors.NewFriendlyError(
				"The server doesn't recognize item type %q. "+
					"Please check the extensions used in the Project items settings.", itemType)
		}
		return nil, err
	}

	for _, db := range dbs {
		// Skip everything coming from system databases, unless configured
		// otherwise.
		if db.System && !f.IncludeMapped {
			continue
		}
		for _, doc := range db.Docs {
			if doc.Generated && !f.IncludeGenerated {
				continue
			}
			if doc.Deployed {
				continue
			}
			if !f.Set.Match(doc.Name) {
				continue
			}
			doc.Database = db.Name
			items = append(items, doc)
		}
	}
	return items, nil
}

// fetchCSP lists web application items. The bulk-modified endpoint doesn't
// support these, so this uses the flat docnames listing, which carries no
// database or generated/deployed flags.
func (f Fetcher) fetchCSP(ctx context.Context, session *atelier.Session,
	items []atelier.Item) ([]atelier.Item, error) {

	log.Info("Retrieving available csp items")

	docs, err := session.ListDocuments(ctx, "csp")
	if err != nil {
		return nil, err
	}

	for _, doc := range docs {
		if !f.Set.Match(doc.Name) {
			continue
		}
		items = append(items, doc)
	}
	return items, nil
}
