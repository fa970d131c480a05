package atelier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// requestTimeout is the fixed transport-level timeout for all requests.
// There is deliberately no per-operation override or retry policy.
const requestTimeout = 60 * time.Second

// Server holds the connection details for one IRIS server.
type Server struct {
	Host      string
	Port      string
	Namespace string
	User      string
	Password  string
	HTTPS     bool
}

// BaseURL returns the root of the Atelier API on this server.
func (s Server) BaseURL() string {
	scheme := "http"
	if s.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s/api/atelier/", scheme, s.Host, s.Port)
}

// A Session is one authenticated connection to the server: an HTTP client
// with its own cookie jar. The underlying connection and cookie state is not
// safe for concurrent use, so a Session must only ever be used by the
// goroutine that owns it.
type Session struct {
	server Server
	http   *http.Client
	jar    *cookiejar.Jar
}

// NewSession creates a session with a fresh cookie jar.
func NewSession(server Server) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.WithContext(err, "create cookie jar")
	}
	return &Session{
		server: server,
		jar:    jar,
		http: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		},
	}, nil
}

// Close releases the session's idle connections. The session must not be
// used afterwards.
func (s *Session) Close() {
	s.http.CloseIdleConnections()
}

// Cookies returns the session cookies for the server, e.g. to seed another
// session so it doesn't have to re-authenticate.
func (s *Session) Cookies() []*http.Cookie {
	return s.jar.Cookies(s.baseURL())
}

// SetCookies preloads the session's cookie jar.
func (s *Session) SetCookies(cookies []*http.Cookie) {
	s.jar.SetCookies(s.baseURL(), cookies)
}

func (s *Session) baseURL() *url.URL {
	u, err := url.Parse(s.server.BaseURL())
	if err != nil {
		// The base URL is assembled from validated config; this can't
		// happen for a parseable host and port.
		panic(err)
	}
	return u
}

// Probe verifies that the server, the API, and the configured namespace are
// reachable with the configured credentials.
func (s *Session) Probe(ctx context.Context) error {
	reqURL := s.server.BaseURL() + "v1/" + url.PathEscape(s.server.Namespace)
	rsp, err := s.do(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	io.Copy(io.Discard, rsp.Body)

	switch rsp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return errors.NewFriendlyError(
			"The server at %s:%s rejected the configured credentials (401). "+
				"Please check the user and password settings.",
			s.server.Host, s.server.Port)
	case http.StatusNotFound:
		return errors.NewFriendlyError(
			"The server returned a 404 for namespace %q. Either the namespace "+
				"doesn't exist, or the /api/atelier web application is not enabled.",
			s.server.Namespace)
	default:
		return errors.NewFriendlyError(
			"Unexpected response from the server: %s.", rsp.Status)
	}
}

// ModifiedItems lists all items of the given type, grouped by database. This
// is the preferred listing endpoint; it doesn't support the csp type.
func (s *Session) ModifiedItems(ctx context.Context, itemType string, generated bool) ([]Database, error) {
	gen := "0"
	if generated {
		gen = "1"
	}
	reqURL := fmt.Sprintf("%sv1/%s/modified/%s?generated=%s",
		s.server.BaseURL(), url.PathEscape(s.server.Namespace), url.PathEscape(itemType), gen)

	// The body is an empty array: no per-database timestamps, so the server
	// reports every item as modified.
	var dbs []Database
	if err := s.getJSON(ctx, http.MethodPost, reqURL, []byte("[]"), &dbs); err != nil {
		return nil, err
	}
	return dbs, nil
}

// ListDocuments lists all items of the given type as a flat list. Only used
// for the csp type, which ModifiedItems doesn't support.
func (s *Session) ListDocuments(ctx context.Context, itemType string) ([]Item, error) {
	reqURL := fmt.Sprintf("%sv1/%s/docnames/%s",
		s.server.BaseURL(), url.PathEscape(s.server.Namespace), url.PathEscape(itemType))

	var items []Item
	if err := s.getJSON(ctx, http.MethodGet, reqURL, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetDocument retrieves a single document by name. A leading slash (CSP
// items) is stripped before building the URL; the rest of the name is used
// as-is. Unlike the listing endpoints, this endpoint's result is the document
// object itself, without a content wrapper.
func (s *Session) GetDocument(ctx context.Context, name string) (Document, error) {
	reqURL := fmt.Sprintf("%sv1/%s/doc/%s",
		s.server.BaseURL(), url.PathEscape(s.server.Namespace),
		escapePath(strings.TrimPrefix(name, "/")))

	var doc Document
	if err := s.doJSON(ctx, http.MethodGet, reqURL, nil, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// QueryRow is one row of an action/query result, keyed by column name. The
// values are left raw since column types vary per query.
type QueryRow map[string]json.RawMessage

// String returns the named column decoded as a string.
func (row QueryRow) String(column string) (string, error) {
	raw, ok := row[column]
	if !ok {
		return "", errors.New(fmt.Sprintf("no column %q in query result", column))
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", errors.WithContext(err, fmt.Sprintf("decode column %q", column))
	}
	return value, nil
}

// Query runs an SQL statement server-side and returns the result rows.
func (s *Session) Query(ctx context.Context, query string, parameters ...string) ([]QueryRow, error) {
	reqURL := fmt.Sprintf("%sv1/%s/action/query",
		s.server.BaseURL(), url.PathEscape(s.server.Namespace))

	body, err := json.Marshal(queryRequest{Query: query, Parameters: parameters})
	if err != nil {
		return nil, errors.WithContext(err, "marshal query")
	}

	var result struct {
		Content []QueryRow `json:"content"`
	}
	if err := s.doJSON(ctx, http.MethodPost, reqURL, body, &result); err != nil {
		return nil, err
	}
	return result.Content, nil
}

// QueryLines runs an SQL statement whose single result column contains a
// JSON-encoded array of lines, and returns those lines joined by newlines.
// This is the calling convention of the GetExport helper procedure.
func (s *Session) QueryLines(ctx context.Context, query string, parameters ...string) (string, error) {
	rows, err := s.Query(ctx, query, parameters...)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	for _, raw := range rows[0] {
		var lines []string
		if err := json.Unmarshal(raw, &lines); err == nil {
			return strings.Join(lines, "\n"), nil
		}

		// Older servers return the column as a string holding the JSON
		// array instead of the array itself.
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return "", errors.WithContext(err, "decode export column")
		}
		if err := json.Unmarshal([]byte(encoded), &lines); err != nil {
			return "", errors.WithContext(err, "parse export lines")
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", nil
}

// getJSON performs a request and decodes the result payload into out after
// checking the status block for server-reported errors.
func (s *Session) getJSON(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var result struct {
		Content json.RawMessage `json:"content"`
	}
	if err := s.doJSON(ctx, method, url, body, &result); err != nil {
		return err
	}
	if out != nil && len(result.Content) > 0 {
		if err := json.Unmarshal(result.Content, out); err != nil {
			return errors.WithContext(err, "decode result")
		}
	}
	return nil
}

func (s *Session) doJSON(ctx context.Context, method, url string, body []byte, result interface{}) error {
	rsp, err := s.do(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()

	var envelope response
	if err := json.NewDecoder(rsp.Body).Decode(&envelope); err != nil {
		log.WithField("url", url).WithError(err).Error("Failed to decode server response")
		return errors.WithContext(err, "decode response")
	}

	if len(envelope.Status.Errors) > 0 {
		return ProtocolError{Errors: envelope.Status.Errors}
	}

	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return errors.WithContext(err, "decode result")
		}
	}
	return nil
}

// do performs one HTTP request. Transport failures are logged with the
// failing URL before being returned; they are never retried.
func (s *Session) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.WithContext(err, "create request")
	}

	req.SetBasicAuth(s.server.User, s.server.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := s.http.Do(req)
	if err != nil {
		log.WithField("url", url).WithError(err).Error("Request failed")
		return nil, errors.WithContext(err, fmt.Sprintf("access %s", url))
	}
	return rsp, nil
}

// escapePath escapes each segment of a slash-separated path, keeping the
// separators. Needed for item names containing %, like %Activate.inc.
func escapePath(name string) string {
	segments := strings.Split(name, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
