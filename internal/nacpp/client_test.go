package nacpp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const categoriesXML = `<?xml version="1.0"?><categories><category code="01"><name>Biochemistry</name></category></categories>`

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:  baseURL,
		Login:    "user",
		Password: "secret",
		Retries:  0,
	}
}

func setSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc123", Path: "/"})
}

// newUpstream builds a stub installation: login sets a cookie, the catalog
// endpoint serves per-catalog payloads.
func newUpstream(t *testing.T, catalogs map[string]func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("login") == "user" && r.FormValue("password") == "secret" {
			setSession(w)
			// The real upstream often lands on an error page after login.
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/plugins/index.php", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("catalog")
		if h, ok := catalogs[name]; ok {
			h(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/logout.php", func(w http.ResponseWriter, r *http.Request) {})
	return httptest.NewServer(mux)
}

func serveXML(xml string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(xml))
	}
}

func TestConnect_CookieDespite404(t *testing.T) {
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": serveXML(categoriesXML),
	})
	defer srv.Close()

	c, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)
	c.Close(context.Background())
}

func TestConnect_NoCookieIsAuthError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // 200 but no cookie
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "no session cookie")
}

func TestConnect_ProbeForbiddenIsAuthError(t *testing.T) {
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusForbidden)
		},
	})
	defer srv.Close()

	_, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "liveness probe rejected")
}

func TestConnect_CSRFHiddenFieldsRoundTrip(t *testing.T) {
	var gotToken atomic.Value
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<form><input type="hidden" name="csrf_token" value="tok-42"></form>`))
			return
		}
		require.NoError(t, r.ParseForm())
		gotToken.Store(r.FormValue("csrf_token"))
		setSession(w)
	})
	mux.HandleFunc("/plugins/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(categoriesXML))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequireCSRF = true
	_, err := Connect(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "tok-42", gotToken.Load())
}

func TestCatalog_AbsentMapsToErrCatalogNotFound(t *testing.T) {
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": serveXML(categoriesXML),
		"emptybody":        serveXML("   "),
	})
	defer srv.Close()

	c, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Catalog(context.Background(), "linkedpanels", nil)
	assert.ErrorIs(t, err, ErrCatalogNotFound, "404 catalog")

	_, err = c.Catalog(context.Background(), "emptybody", nil)
	assert.ErrorIs(t, err, ErrCatalogNotFound, "empty body catalog")
}

func TestDo_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": serveXML(categoriesXML),
		"tests": func(w http.ResponseWriter) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`<tests><test code="A"/></tests>`))
		},
	})
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retries = 2
	cfg.Backoff = 0 // no sleeping between attempts
	c, err := Connect(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	root, err := c.Tests(context.Background())
	require.NoError(t, err)
	assert.Len(t, root.FindElements(".//test"), 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchXML_NonOKIsTransportError(t *testing.T) {
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": serveXML(categoriesXML),
	})
	defer srv.Close()

	c, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.FetchXML(context.Background(), "/nosuch.php", url.Values{})
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.Status)
}

func TestFetchXML_MalformedBodyIsParseError(t *testing.T) {
	srv := newUpstream(t, map[string]func(http.ResponseWriter){
		"panelscategories": serveXML(categoriesXML),
		"broken":           serveXML("<tests><unclosed></tests>"),
	})
	defer srv.Close()

	c, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Catalog(context.Background(), "broken", nil)
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))
}
