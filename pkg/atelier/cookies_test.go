package atelier

import (
	"net/http"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookiesRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()

	server := Server{Host: "devsvr", Port: "52773", Namespace: "user"}
	source, err := NewSession(server)
	require.NoError(t, err)
	source.SetCookies([]*http.Cookie{
		{Name: "sessionid", Value: "abc123", Path: "/"},
		{Name: "csrf", Value: "tok", Path: "/"},
	})

	path := "/state/cookies;devsvr;52773.txt"
	require.NoError(t, SaveCookies(source, path))

	restored, err := NewSession(server)
	require.NoError(t, err)
	require.NoError(t, LoadCookies(restored, path))

	cookies := restored.Cookies()
	require.Len(t, cookies, 2)

	byName := map[string]string{}
	for _, c := range cookies {
		byName[c.Name] = c.Value
	}
	assert.Equal(t, "abc123", byName["sessionid"])
	assert.Equal(t, "tok", byName["csrf"])
}

func TestLoadCookiesMissingFile(t *testing.T) {
	fs = afero.NewMemMapFs()

	session, err := NewSession(Server{Host: "devsvr", Port: "52773"})
	require.NoError(t, err)

	// A missing cookie file just means a fresh session.
	assert.NoError(t, LoadCookies(session, "/state/cookies;devsvr;52773.txt"))
	assert.Empty(t, session.Cookies())
}
