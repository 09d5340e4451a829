// Package nacpp implements the client side of the external lab system
// (NACPP-compatible installations): session auth, catalog reads, order and
// result pulls, and price endpoint discovery.
//
// The upstream's failure signaling is unreliable. Login routinely answers
// 404 after a redirect even when the session is fine, so success is judged
// by cookie presence and then re-verified with a catalog probe.
package nacpp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
)

const defaultUserAgent = "labsync-nacpp/1.2"

// Config is the immutable transport configuration, built once at process
// start from the process config.
type Config struct {
	BaseURL       string
	Login         string
	Password      string
	LoginPath     string // default /login.php
	LoginField    string // default "login"
	PasswordField string // default "password"
	RequireCSRF   bool
	Timeout       time.Duration // default 25s
	Retries       int           // extra attempts on 429/5xx, default 3
	Backoff       float64       // exponential backoff factor in seconds, default 1.5
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.LoginPath == "" {
		out.LoginPath = "/login.php"
	}
	if out.LoginField == "" {
		out.LoginField = "login"
	}
	if out.PasswordField == "" {
		out.PasswordField = "password"
	}
	if out.Timeout == 0 {
		out.Timeout = 25 * time.Second
	}
	return out
}

// Client holds an authenticated session against one upstream installation.
// It is safe for sequential use only; the sync pipeline is single-threaded.
type Client struct {
	cfg  Config
	base *url.URL
	http *http.Client
	log  zerolog.Logger

	// test seam: overrides time.Sleep between retries
	sleep func(time.Duration)
}

var hiddenInputRe = regexp.MustCompile(
	`(?i)<input[^>]+type=["']hidden["'][^>]*name=["']([^"']+)["'][^>]*value=["']([^"']*)["']`)

// Connect logs in and verifies the session with a liveness probe against the
// panelscategories catalog. Any failure along the way is an *AuthError.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	if cfg.Login == "" || cfg.Password == "" {
		return nil, &AuthError{Reason: "credentials are empty (login/password)"}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, &AuthError{Reason: fmt.Sprintf("invalid base URL %q", cfg.BaseURL), Err: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &AuthError{Reason: "cookie jar", Err: err}
	}

	c := &Client{
		cfg:  cfg,
		base: base,
		http: &http.Client{Jar: jar, Timeout: cfg.Timeout},
		log:  log,
		sleep: time.Sleep,
	}

	if err := c.login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		c.cfg.LoginField:    {c.cfg.Login},
		c.cfg.PasswordField: {c.cfg.Password},
	}

	// CSRF forms carry hidden fields that must round-trip with the login.
	if c.cfg.RequireCSRF {
		resp, body, err := c.do(ctx, http.MethodGet, c.cfg.LoginPath, nil, nil, "")
		if err != nil {
			return &AuthError{Reason: "fetch login form", Err: err}
		}
		if resp.StatusCode >= 400 {
			return &AuthError{Reason: fmt.Sprintf("login form returned %d", resp.StatusCode)}
		}
		for _, m := range hiddenInputRe.FindAllStringSubmatch(string(body), -1) {
			form.Set(m[1], m[2])
		}
	}

	resp, body, err := c.do(ctx, http.MethodPost, c.cfg.LoginPath, nil,
		[]byte(form.Encode()), "application/x-www-form-urlencoded")

	// Success is cookie presence, not status: upstream often lands on a 404
	// after the post-login redirect.
	if len(c.http.Jar.Cookies(c.base)) == 0 {
		if err != nil {
			return &AuthError{Reason: "login request failed", Err: err}
		}
		if resp.StatusCode >= 400 {
			head := string(body)
			if len(head) > 500 {
				head = head[:500]
			}
			return &AuthError{Reason: fmt.Sprintf("login failed (%d) at %s%s, body[:500]=%q",
				resp.StatusCode, c.cfg.BaseURL, c.cfg.LoginPath, head)}
		}
		return &AuthError{Reason: "no session cookie after login"}
	}

	// The cookie alone proves nothing; verify with a catalog probe.
	q := url.Values{"act": {"get-catalog"}, "catalog": {"panelscategories"}}
	ping, _, err := c.do(ctx, http.MethodGet, "/plugins/index.php", q, nil, "")
	if err != nil {
		return &AuthError{Reason: "liveness probe failed", Err: err}
	}
	finalURL := ping.Request.URL.String()
	if ping.StatusCode == http.StatusUnauthorized || ping.StatusCode == http.StatusForbidden ||
		strings.Contains(strings.ToLower(finalURL), "login") {
		return &AuthError{Reason: fmt.Sprintf("liveness probe rejected: %d at %s", ping.StatusCode, finalURL)}
	}

	c.log.Debug().Str("base", c.cfg.BaseURL).Msg("nacpp session established")
	return nil
}

// Close logs out best-effort. Teardown must never mask the primary outcome,
// so failures are logged and discarded.
func (c *Client) Close(ctx context.Context) {
	if _, _, err := c.do(ctx, http.MethodGet, "/logout.php", nil, nil, ""); err != nil {
		c.log.Debug().Err(err).Msg("nacpp logout failed")
	}
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// do issues one logical request with bounded retries on 429/500/502/503/504.
// All other failures propagate immediately. The full body is read and the
// response closed before returning.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, contentType string) (*http.Response, []byte, error) {
	u := c.cfg.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	attempts := c.cfg.Retries + 1
	var lastResp *http.Response
	var lastBody []byte

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(c.cfg.Backoff*math.Pow(2, float64(attempt-1))*float64(time.Second))
			c.log.Debug().Str("url", u).Int("attempt", attempt).Dur("backoff", delay).Msg("nacpp retry")
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			default:
			}
			c.sleep(delay)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, err
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, nil, err
		}

		lastResp, lastBody = resp, respBody
		if !retryStatuses[resp.StatusCode] {
			return resp, respBody, nil
		}
	}

	return lastResp, lastBody, nil
}

// FetchXML issues a GET and parses the body as XML.
func (c *Client) FetchXML(ctx context.Context, path string, q url.Values) (*etree.Document, error) {
	resp, body, err := c.do(ctx, http.MethodGet, path, q, nil, "")
	if err != nil {
		return nil, &TransportError{URL: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	}
	return parseXML(resp.Request.URL.String(), body)
}

// PostXML issues a POST with an XML body and parses the XML response.
func (c *Client) PostXML(ctx context.Context, path string, q url.Values, xmlBody string) (*etree.Document, error) {
	resp, body, err := c.do(ctx, http.MethodPost, path, q, []byte(xmlBody), "application/xml")
	if err != nil {
		return nil, &TransportError{URL: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	}
	return parseXML(resp.Request.URL.String(), body)
}

// parseXML builds a document tree from body. etree performs no external
// entity resolution; entity expansion is limited to the predefined XML set.
func parseXML(srcURL string, body []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = false
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, &ParseError{URL: srcURL, Err: err}
	}
	if doc.Root() == nil {
		return nil, &ParseError{URL: srcURL, Err: fmt.Errorf("empty document")}
	}
	return doc, nil
}
