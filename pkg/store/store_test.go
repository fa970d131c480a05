package store

import (
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/errors"
	"github.com/sidkik/iris-sync/pkg/retrieve"
)

func TestPathFor(t *testing.T) {
	tests := []struct {
		name    string
		item    string
		subdirs bool
		exp     string
	}{
		{
			name: "FlatClassName",
			item: "Strix.Std.EAN.cls",
			exp:  filepath.Join("src", "Strix.Std.EAN.cls"),
		},
		{
			name:    "SubdirsSplitPackages",
			item:    "Strix.Std.EAN.cls",
			subdirs: true,
			exp:     filepath.Join("src", "Strix", "Std", "EAN.cls"),
		},
		{
			name:    "SubdirsShortName",
			item:    "Utils.mac",
			subdirs: true,
			exp:     filepath.Join("src", "Utils.mac"),
		},
		{
			name: "CSPKeepsDirectories",
			item: "/csp/app/menu.csp",
			exp:  filepath.Join("csp", "csp", "app", "menu.csp"),
		},
		{
			name:    "CSPIgnoresSubdirs",
			item:    "/csp/app/menu.csp",
			subdirs: true,
			exp:     filepath.Join("csp", "csp", "app", "menu.csp"),
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			writer := Writer{SourceDir: "src", CSPDir: "csp", Subdirs: test.subdirs}
			assert.Equal(t, test.exp, writer.PathFor(atelier.Item{Name: test.item}))
		})
	}
}

func TestWrite(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	writer := Writer{SourceDir: "/out/src", Subdirs: true}
	item := atelier.Item{Name: "Pkg.Sub.A.cls", Timestamp: "2024-05-01 12:34:56"}

	path, err := writer.Write(item, retrieve.Content{Text: "Class Pkg.Sub.A\n"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out/src", "Pkg", "Sub", "A.cls"), path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "Class Pkg.Sub.A\n", string(data))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	exp := time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)
	assert.True(t, info.ModTime().Equal(exp), "mod time %v", info.ModTime())
}

func TestWriteBinary(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	// Binary content must bypass the text encoder.
	writer := Writer{CSPDir: "/out/csp", Encoding: charmap.Windows1252, EncodingName: "windows-1252"}
	raw := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}

	path, err := writer.Write(atelier.Item{Name: "/app/logo.png"}, retrieve.Content{Binary: raw})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestWriteEncoded(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	writer := Writer{SourceDir: "/out/src", Encoding: charmap.Windows1252, EncodingName: "windows-1252"}

	path, err := writer.Write(atelier.Item{Name: "A.cls"}, retrieve.Content{Text: "café"})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, data)
}

func TestWriteUnencodableCharacter(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	writer := Writer{SourceDir: "/out/src", Encoding: charmap.Windows1252, EncodingName: "windows-1252"}

	_, err := writer.Write(atelier.Item{Name: "A.cls"},
		retrieve.Content{Text: "price: ₹100"})
	require.Error(t, err)
	assert.True(t, errors.IsFriendly(err))

	msg := errors.GetPrintableMessage(err)
	assert.Contains(t, msg, "A.cls")
	assert.Contains(t, msg, "windows-1252")
	assert.Contains(t, msg, "character 7")
}

func TestWriteUTF8Passthrough(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	writer := Writer{SourceDir: "/out/src", Encoding: unicode.UTF8, EncodingName: "UTF-8"}

	path, err := writer.Write(atelier.Item{Name: "A.cls"}, retrieve.Content{Text: "₹ stays"})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "₹ stays", string(data))
}

func TestWriteUnparseableTimestamp(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()
	hook := logtest.NewGlobal()
	defer hook.Reset()

	writer := Writer{SourceDir: "/out/src"}
	item := atelier.Item{Name: "A.cls", Timestamp: "yesterday-ish"}

	// The file must still be written; the bad timestamp is only logged.
	path, err := writer.Write(item, retrieve.Content{Text: "Class A\n"})
	require.NoError(t, err)

	_, err = fs.Stat(path)
	require.NoError(t, err)

	require.NotEmpty(t, hook.Entries)
	entry := hook.LastEntry()
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Contains(t, entry.Message, "yesterday-ish")
	assert.Contains(t, entry.Message, "A.cls")
}

func TestWriteData(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	writer := Writer{DataDir: "/out/data"}

	path, err := writer.WriteData("Settings.xml", "<Export/>\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/out/data", "Settings.xml"), path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, "<Export/>\n", string(data))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		value string
		exp   time.Time
	}{
		{"2024-05-01 12:34:56", time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)},
		{"2024-05-01 12:34:56.789", time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)},
		{"2024-05-01T12:34:56", time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)},
	}
	for _, test := range tests {
		ts, err := parseTimestamp(test.value)
		require.NoError(t, err)
		assert.True(t, ts.Equal(test.exp), "parsed %v for %s", ts, test.value)
	}

	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
}
