package nacpp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
)

var embeddedJSONRe = regexp.MustCompile(`(?s)\{.*\}`)

// ReportBundle fetches the print.php report bundle for one order. Some
// installations answer plain JSON, others HTML with the JSON embedded; the
// first balanced {...} region is extracted in the latter case.
func (c *Client) ReportBundle(ctx context.Context, orderNo, panelsCSV string, withLogo bool) (map[string]interface{}, error) {
	q := url.Values{"action": {"saveallreports"}, "id": {orderNo}}
	if withLogo {
		q.Set("logo", "")
	}
	if panelsCSV != "" {
		q.Set("panels", panelsCSV)
	}

	resp, body, err := c.do(ctx, http.MethodGet, "/print.php", q, nil, "")
	if err != nil {
		return nil, &TransportError{URL: "/print.php", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(body, &meta); err == nil {
		return meta, nil
	}
	if m := embeddedJSONRe.Find(body); m != nil {
		if err := json.Unmarshal(m, &meta); err == nil {
			return meta, nil
		}
	}
	return nil, &ParseError{
		URL: resp.Request.URL.String(),
		Err: fmt.Errorf("unexpected format from print.php (not JSON)"),
	}
}

// Download fetches an absolute or site-relative URL through the
// authenticated session, for pulling the report files listed in a bundle.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.IsAbs() {
		path = u.RequestURI()
	}
	resp, body, err := c.do(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return nil, &TransportError{URL: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	}
	return body, nil
}
