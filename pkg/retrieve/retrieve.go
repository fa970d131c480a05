// Package retrieve fetches single items from the server and decodes their
// content into the exact bytes that should land on disk.
package retrieve

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/config"
	"github.com/sidkik/iris-sync/pkg/errors"
)

// Content is a retrieved item's decoded content: lines joined into text, or
// raw bytes for base64-encoded documents. Each value is consumed exactly
// once, by the file writer.
type Content struct {
	Text   string
	Binary []byte
}

// IsBinary reports whether the content holds raw bytes rather than text.
func (c Content) IsBinary() bool {
	return c.Binary != nil
}

// Retriever fetches and decodes items.
type Retriever struct {
	// Compatibility selects which trailing-newline fix-ups are applied;
	// see the config package constants.
	Compatibility string
}

// Retrieve fetches one item. The server returns content line by line; text
// lines are joined with \n, base64 chunks are joined and decoded.
//
// Under export compatibility (the default), two fix-ups restore data the
// wire format drops:
//   - CSP and RTN text documents are missing their trailing newline, so an
//     empty line is appended before joining;
//   - CLS text documents lose one newline to the join, so they get the same
//     appended empty line.
//
// Under vscode compatibility neither fix-up is applied.
func (r Retriever) Retrieve(ctx context.Context, session *atelier.Session,
	item atelier.Item) (Content, error) {

	doc, err := session.GetDocument(ctx, item.Name)
	if err != nil {
		return Content{}, err
	}

	lines := doc.Content
	if !doc.Encoded && r.Compatibility == config.CompatibilityExport {
		switch doc.Category {
		case atelier.CategoryCSP, atelier.CategoryRoutine, atelier.CategoryClass:
			lines = append(lines, "")
		}
	}

	joined := strings.Join(lines, "\n")

	if doc.Encoded && joined != "" {
		// Large binary documents arrive as multiple base64 chunks; the
		// newlines we joined them with aren't part of the encoding.
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(joined, "\n", ""))
		if err != nil {
			return Content{}, errors.WithContext(err, "decode base64 content")
		}
		return Content{Binary: raw}, nil
	}
	return Content{Text: joined}, nil
}
