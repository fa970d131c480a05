// Package store derives on-disk paths for items and persists their content,
// preserving the server-reported modification time.
package store

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/retrieve"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Timestamp layouts the server has been seen to use.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
}

// Writer persists retrieved items.
type Writer struct {
	// SourceDir is the root for non-CSP items.
	SourceDir string

	// CSPDir is the root for web application items.
	CSPDir string

	// DataDir is the root for auxiliary exports (settings, lookup tables).
	DataDir string

	// Subdirs flattens package prefixes into nested directories.
	Subdirs bool

	// EncodingName and Encoding determine the character encoding of text
	// output. Binary content is written as-is.
	EncodingName string
	Encoding     encoding.Encoding
}

// PathFor derives the output path for an item.
//
// CSP items (leading slash) keep their directory structure exactly as
// reported. Other item names are dot-delimited package paths; with Subdirs
// the packages become directories and the file keeps the last two segments,
// otherwise the full dotted name is a single filename.
func (w Writer) PathFor(item atelier.Item) string {
	name := item.Name
	if strings.HasPrefix(name, "/") {
		parts := strings.Split(name, "/")
		// parts[0] is the empty string before the leading slash.
		dirs := parts[1 : len(parts)-1]
		return filepath.Join(w.CSPDir, filepath.Join(dirs...), parts[len(parts)-1])
	}

	if !w.Subdirs {
		return filepath.Join(w.SourceDir, name)
	}

	parts := strings.Split(name, ".")
	if len(parts) <= 2 {
		return filepath.Join(w.SourceDir, name)
	}
	dirs := parts[:len(parts)-2]
	file := strings.Join(parts[len(parts)-2:], ".")
	return filepath.Join(w.SourceDir, filepath.Join(dirs...), file)
}

// Write persists the content for item and stamps the file with the item's
// server-reported timestamp, so downstream tooling can detect staleness
// without re-fetching.
func (w Writer) Write(item atelier.Item, content retrieve.Content) (string, error) {
	path := w.PathFor(item)

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.WithContext(err, "create output directory")
	}

	var data []byte
	if content.IsBinary() {
		data = content.Binary
	} else {
		encoded, err := w.encodeText(item.Name, content.Text)
		if err != nil {
			return "", err
		}
		data = encoded
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", errors.WithContext(err, fmt.Sprintf("write %s", path))
	}

	if ts, err := parseTimestamp(item.Timestamp); err == nil {
		if err := fs.Chtimes(path, ts, ts); err != nil {
			return "", errors.WithContext(err, "set file timestamp")
		}
	} else {
		log.Warnf("Unrecognized timestamp %q for %s; file keeps the current time",
			item.Timestamp, item.Name)
	}

	return path, nil
}

// WriteData persists an auxiliary export under the data directory. These
// exports are always UTF-8 XML, regardless of the configured item encoding.
func (w Writer) WriteData(name, text string) (string, error) {
	path := filepath.Join(w.DataDir, name)
	if err := fs.MkdirAll(w.DataDir, 0755); err != nil {
		return "", errors.WithContext(err, "create data directory")
	}
	if err := afero.WriteFile(fs, path, []byte(text), 0644); err != nil {
		return "", errors.WithContext(err, fmt.Sprintf("write %s", path))
	}
	return path, nil
}

// encodeText converts text to the configured output encoding. A character
// that can't be represented is a configuration problem, not a crash: the
// error names the item, the encoding, the approximate offset and a snippet
// of the offending data so the user can fix the encoding setting.
func (w Writer) encodeText(name, text string) ([]byte, error) {
	if w.Encoding == nil || w.Encoding == unicode.UTF8 {
		return []byte(text), nil
	}

	if offset, ok := findUnencodable(w.Encoding, text); ok {
		runes := []rune(text)
		end := offset + 10
		if end > len(runes) {
			end = len(runes)
		}
		return nil, errors.NewFriendlyError(
			"Error saving %s: some characters can't be saved in the configured "+
				"encoding (%s). Problem starts around character %d; data: %q.",
			name, w.EncodingName, offset, string(runes[offset:end]))
	}

	encoded, err := w.Encoding.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, errors.WithContext(err, "encode text")
	}
	return encoded, nil
}

// findUnencodable returns the rune offset of the first character the
// encoding can't represent. Encoders substitute unsupported runes silently,
// so each rune is encoded on its own and compared against the substitution
// output.
func findUnencodable(enc encoding.Encoding, text string) (int, bool) {
	encoder := enc.NewEncoder()
	sub, subErr := encoder.Bytes([]byte("�"))
	for i, r := range []rune(text) {
		out, err := encoder.Bytes([]byte(string(r)))
		if err != nil {
			return i, true
		}
		if r == '�' || subErr != nil {
			continue
		}
		// A rune that encodes to the substitution output, without being
		// the substitution character itself, is unsupported.
		if string(out) == string(sub) && !(len(sub) == 1 && r == rune(sub[0])) {
			return i, true
		}
	}
	return 0, false
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts.Truncate(time.Second), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp format")
}
