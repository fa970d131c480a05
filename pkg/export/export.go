// Package export retrieves auxiliary artifacts (deployable settings, lookup
// tables) through a temporary server-side helper procedure.
package export

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/match"
)

// createExportProc creates a stored procedure that exports items by calling
// $System.OBJ.ExportToStream. Versions before IRIS don't support nested
// curly braces in procedure code, hence the use of For instead of While.
const createExportProc = `
CREATE PROCEDURE GetExport(name SYSNAME) FOR Tmp.CII.Procs RETURNS CHAR LANGUAGE OBJECTSCRIPT
{
  Set Stream = ##class(%Stream.TmpCharacter).%New()
  Set sc = $System.OBJ.ExportToStream(name, Stream, "d")
  If 'sc Throw ##class(%Exception.StatusException).CreateFromStatus(sc)
  Set a = []
  For  Quit:Stream.AtEnd  Do a.%Push(Stream.ReadLine())
  Return a.%ToJSON()
}
`

// A Handle represents the helper procedure installed on the server. Release
// removes it again; the caller is expected to defer the Release as soon as
// the Handle is acquired, so the procedure is cleaned up on every exit path.
type Handle struct {
	session *atelier.Session
	created bool
}

// Acquire makes sure the helper procedure exists on the server. If the
// containing class is already present the procedure is reused and Release
// won't touch it.
func Acquire(ctx context.Context, session *atelier.Session) (*Handle, error) {
	exists := "SELECT 1 FROM %Dictionary.ClassDefinition WHERE ID = 'Tmp.CII.Procs'"
	rows, err := session.Query(ctx, exists)
	if err != nil {
		return nil, errors.WithContext(err, "check for export procedure")
	}
	if len(rows) > 0 {
		return &Handle{session: session}, nil
	}

	if _, err := session.Query(ctx, createExportProc); err != nil {
		return nil, errors.WithContext(err, "create export procedure")
	}
	return &Handle{session: session, created: true}, nil
}

// Release drops the helper procedure if Acquire created it. Errors are
// logged rather than returned: cleanup shouldn't mask the run's outcome.
func (h *Handle) Release(ctx context.Context) {
	if h == nil || !h.created {
		return
	}
	h.created = false

	if _, err := h.session.Query(ctx, "DROP PROCEDURE Tmp_CII.GetExport"); err != nil {
		log.WithError(err).Warn("Error cleaning up export stored procedure")
	}
}

// Export returns the server's XML export of the named item, or "" when the
// item contains no data.
func (h *Handle) Export(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("SELECT Tmp_CII.GetExport('%s') AS result", name)
	return h.session.QueryLines(ctx, query)
}

// ListLookupTables enumerates the lookup tables matching the given specs.
// Inclusion patterns are evaluated server-side with LIKE; exclusions are
// applied here.
func (h *Handle) ListLookupTables(ctx context.Context, specs []string) ([]string, error) {
	patterns := match.LikePatterns(specs)
	if len(patterns) == 0 {
		return nil, nil
	}

	conds := make([]string, len(patterns))
	for i := range patterns {
		conds[i] = "TableName LIKE ?"
	}
	query := "SELECT DISTINCT TableName FROM Ens_Util.LookupTable WHERE " +
		strings.Join(conds, " OR ")

	rows, err := h.session.Query(ctx, query, patterns...)
	if err != nil {
		return nil, errors.WithContext(err, "list lookup tables")
	}

	set, err := match.CompileLookup(specs)
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, row := range rows {
		name, err := row.String("TableName")
		if err != nil {
			return nil, err
		}
		if set.Match(name) {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// NormalizeTableName returns the lookup table's name on the wire and on
// disk. The server export requires an uppercase .LUT extension (the
// management portal won't recognize the export otherwise); locally the
// extension is lowercased.
func NormalizeTableName(table string) (wire, file string) {
	if !strings.HasSuffix(strings.ToLower(table), ".lut") {
		table += ".LUT"
	}
	wire = table[:len(table)-4] + ".LUT"
	file = table[:len(table)-4] + ".lut"
	return wire, file
}
