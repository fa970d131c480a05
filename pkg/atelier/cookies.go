package atelier

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// persistedCookie is the on-disk form of one session cookie.
type persistedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Domain  string    `json:"domain,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
}

// LoadCookies reads a persisted cookie jar into the session. A missing file
// is not an error: the session simply starts without cookies and
// authenticates on the first request.
func LoadCookies(session *Session, path string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithContext(err, "read cookie file")
	}

	var persisted []persistedCookie
	if err := json.Unmarshal(data, &persisted); err != nil {
		return errors.WithContext(err, "parse cookie file")
	}

	cookies := make([]*http.Cookie, 0, len(persisted))
	for _, c := range persisted {
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Domain:  c.Domain,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}
	session.SetCookies(cookies)
	return nil
}

// SaveCookies persists the session's cookies so a process run shortly after
// can reuse the login state.
func SaveCookies(session *Session, path string) error {
	var persisted []persistedCookie
	for _, c := range session.Cookies() {
		persisted = append(persisted, persistedCookie{
			Name:    c.Name,
			Value:   c.Value,
			Path:    c.Path,
			Domain:  c.Domain,
			Expires: c.Expires,
			Secure:  c.Secure,
		})
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return errors.WithContext(err, "marshal cookies")
	}
	if err := afero.WriteFile(fs, path, data, 0600); err != nil {
		return errors.WithContext(err, "write cookie file")
	}
	return nil
}
