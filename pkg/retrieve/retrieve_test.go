package retrieve

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/iris-sync/pkg/atelier"
	"github.com/sidkik/iris-sync/pkg/config"
)

// docSession serves a single document and returns a session pointed at it.
func docSession(t *testing.T, category string, encoded bool, lines []string) *atelier.Session {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			content, err := json.Marshal(lines)
			require.NoError(t, err)
			fmt.Fprintf(w, `{
				"status": {"errors": []},
				"result": {"name": "test", "cat": %q, "enc": %t, "content": %s}
			}`, category, encoded, content)
		}))
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	session, err := atelier.NewSession(atelier.Server{
		Host:      u.Hostname(),
		Port:      u.Port(),
		Namespace: "user",
		User:      "developer",
		Password:  "secret",
	})
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func TestRetrieveText(t *testing.T) {
	tests := []struct {
		name          string
		category      string
		compatibility string
		lines         []string
		exp           string
	}{
		{
			name:          "RoutineGetsTrailingNewline",
			category:      atelier.CategoryRoutine,
			compatibility: config.CompatibilityExport,
			lines:         []string{"a", "b"},
			exp:           "a\nb\n",
		},
		{
			name:          "ClassGetsTrailingNewline",
			category:      atelier.CategoryClass,
			compatibility: config.CompatibilityExport,
			lines:         []string{"Class Pkg.A", "{", "}"},
			exp:           "Class Pkg.A\n{\n}\n",
		},
		{
			name:          "CSPGetsTrailingNewline",
			category:      atelier.CategoryCSP,
			compatibility: config.CompatibilityExport,
			lines:         []string{"<html>", "</html>"},
			exp:           "<html>\n</html>\n",
		},
		{
			name:          "OtherCategoriesUntouched",
			category:      "OTH",
			compatibility: config.CompatibilityExport,
			lines:         []string{"a", "b"},
			exp:           "a\nb",
		},
		{
			name:          "VSCodeCompatibilitySkipsFixUp",
			category:      atelier.CategoryRoutine,
			compatibility: config.CompatibilityVSCode,
			lines:         []string{"a", "b"},
			exp:           "a\nb",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			session := docSession(t, test.category, false, test.lines)

			content, err := Retriever{Compatibility: test.compatibility}.
				Retrieve(context.Background(), session, atelier.Item{Name: "test"})
			require.NoError(t, err)
			assert.False(t, content.IsBinary())
			assert.Equal(t, test.exp, content.Text)
		})
	}
}

func TestRetrieveBinary(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00}
	encoded := base64.StdEncoding.EncodeToString(raw)

	// Binary documents arrive as multiple base64 chunks.
	lines := []string{encoded[:4], encoded[4:]}
	session := docSession(t, atelier.CategoryCSP, true, lines)

	content, err := Retriever{Compatibility: config.CompatibilityExport}.
		Retrieve(context.Background(), session, atelier.Item{Name: "test"})
	require.NoError(t, err)
	assert.True(t, content.IsBinary())
	assert.Equal(t, raw, content.Binary)
}

func TestRetrieveEmptyBinary(t *testing.T) {
	session := docSession(t, atelier.CategoryCSP, true, nil)

	content, err := Retriever{Compatibility: config.CompatibilityExport}.
		Retrieve(context.Background(), session, atelier.Item{Name: "test"})
	require.NoError(t, err)
	assert.False(t, content.IsBinary())
	assert.Empty(t, content.Text)
}
