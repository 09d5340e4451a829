package nacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/labsync/labsync/internal/platform/xmlx"
)

// PriceRow is the normalized shape every price payload parser produces,
// whatever format the installation answered with.
type PriceRow struct {
	Code     string
	Name     string
	Cost     decimal.NullDecimal
	Currency string
	Duration string
	Comment  string
}

// PriceCandidate is one endpoint probe that answered 200 with a non-empty
// body. Candidates are not ranked or deduplicated; the correct endpoint
// cannot be determined a priori, so every payload goes to the parser.
type PriceCandidate struct {
	Params url.Values
	Body   string
}

// priceRoutes and priceExtras form the probing matrix. The price catalog is
// undocumented and its name varies between installations.
var priceRoutes = []url.Values{
	{"act": {"get-catalog"}, "catalog": {"price"}},
	{"act": {"get-catalog"}, "catalog": {"services"}},
	{"act": {"get-catalog"}, "catalog": {"panelsprice"}},
	{"act": {"get-catalog"}, "catalog": {"pricecatalog"}},
	{"act": {"get-catalog"}, "catalog": {"pricelist"}},
	{"act": {"price"}},
	{"act": {"services"}},
}

var priceExtras = []url.Values{
	{"tariff": {"1"}},
	{"tariff": {"default"}},
	{"clinic": {"1"}},
	{"contract": {"1"}},
	{"org": {"1"}},
	{"pricegroup": {"1"}},
	{"group": {"1"}},
}

// DiscoverPriceEndpoints walks the route list bare, then the full
// routes×extras product, collecting every 200/non-empty response.
func (c *Client) DiscoverPriceEndpoints(ctx context.Context) ([]PriceCandidate, error) {
	var found []PriceCandidate

	probe := func(q url.Values) error {
		resp, body, err := c.do(ctx, http.MethodGet, "/plugins/index.php", q, nil, "")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) != "" {
			found = append(found, PriceCandidate{Params: q, Body: string(body)})
		}
		return nil
	}

	for _, route := range priceRoutes {
		if err := probe(route); err != nil {
			return found, &TransportError{URL: "/plugins/index.php", Err: err}
		}
	}
	for _, route := range priceRoutes {
		for _, extra := range priceExtras {
			q := url.Values{}
			for k, vs := range route {
				q[k] = vs
			}
			for k, vs := range extra {
				q[k] = vs
			}
			if err := probe(q); err != nil {
				return found, &TransportError{URL: "/plugins/index.php", Err: err}
			}
		}
	}
	return found, nil
}

var (
	htmlRowRe   = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	htmlCellRe  = regexp.MustCompile(`(?is)<t[dh][^>]*>(.*?)</t[dh]>`)
	htmlListRe  = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]+>`)
	moneyRe     = regexp.MustCompile(`(?i)([\d\s]+[.,]\d{2}|\d+)(?:\s*(?:р|руб|rub|₽))?`)
	dashSplitRe = regexp.MustCompile(`[—–]`)
)

// ParsePricePayload turns an arbitrary price payload into rows. Sniffing
// order is JSON → XML → HTML table → HTML list; each parser either yields
// rows or falls through, never erroring on malformed input.
func ParsePricePayload(text, defaultCurrency string) []PriceRow {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil
	}

	if t[0] == '{' || t[0] == '[' {
		if rows := parseJSONPrices(t, defaultCurrency); rows != nil {
			return rows
		}
	}
	if strings.HasPrefix(t, "<") {
		if rows := parseXMLPrices(t, defaultCurrency); len(rows) > 0 {
			return rows
		}
	}
	if rows := parseHTMLTablePrices(t, defaultCurrency); len(rows) > 0 {
		return rows
	}
	return parseHTMLListPrices(t, defaultCurrency)
}

func clampCurrency(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func parseJSONPrices(t, defaultCurrency string) []PriceRow {
	var raw interface{}
	dec := json.NewDecoder(strings.NewReader(t))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil
	}

	items, ok := raw.([]interface{})
	if !ok {
		obj, isObj := raw.(map[string]interface{})
		if !isObj {
			return nil
		}
		items, ok = obj["prices"].([]interface{})
		if !ok {
			return nil
		}
	}

	str := func(m map[string]interface{}, key string) string {
		switch v := m[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case json.Number:
			return v.String()
		default:
			return ""
		}
	}

	rows := make([]PriceRow, 0, len(items))
	for _, it := range items {
		m, isMap := it.(map[string]interface{})
		if !isMap {
			continue
		}
		rows = append(rows, PriceRow{
			Code:     str(m, "code"),
			Name:     str(m, "name"),
			Cost:     xmlx.ToDecimal(str(m, "cost")),
			Currency: clampCurrency(str(m, "currency"), defaultCurrency),
			Duration: str(m, "duration"),
			Comment:  str(m, "comment"),
		})
	}
	return rows
}

func parseXMLPrices(t, defaultCurrency string) []PriceRow {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(t); err != nil || doc.Root() == nil {
		return nil
	}
	var rows []PriceRow
	for _, p := range doc.Root().FindElements(".//price") {
		rows = append(rows, PriceRow{
			Code:     xmlx.Text(p, "code", ""),
			Name:     xmlx.Text(p, "name", ""),
			Cost:     xmlx.ToDecimal(xmlx.Text(p, "cost", "")),
			Currency: clampCurrency(xmlx.Text(p, "currency", ""), defaultCurrency),
			Duration: xmlx.Text(p, "duration", ""),
			Comment:  xmlx.Text(p, "comment", ""),
		})
	}
	return rows
}

func stripTags(s string) string {
	return strings.TrimSpace(htmlTagRe.ReplaceAllString(s, " "))
}

// parseHTMLTablePrices scrapes <tr>/<td> rows: first cell is the code,
// second the name, and the first money-shaped substring in cells[1:4] the
// cost.
func parseHTMLTablePrices(t, defaultCurrency string) []PriceRow {
	var rows []PriceRow
	for _, rowMatch := range htmlRowRe.FindAllStringSubmatch(t, -1) {
		var cells []string
		for _, cellMatch := range htmlCellRe.FindAllStringSubmatch(rowMatch[1], -1) {
			cells = append(cells, stripTags(cellMatch[1]))
		}
		if len(cells) < 2 {
			continue
		}
		code, name := cells[0], cells[1]
		if code == "" || name == "" {
			continue
		}

		var cost decimal.NullDecimal
		upper := len(cells)
		if upper > 4 {
			upper = 4
		}
		for _, cell := range cells[1:upper] {
			if m := moneyRe.FindStringSubmatch(cell); m != nil {
				cost = xmlx.ToDecimal(m[1])
				break
			}
		}

		rows = append(rows, PriceRow{
			Code:     code,
			Name:     name,
			Cost:     cost,
			Currency: defaultCurrency,
		})
	}
	return rows
}

// parseHTMLListPrices handles <li>code — name — 350.00</li> style markup,
// splitting on em/en dashes.
func parseHTMLListPrices(t, defaultCurrency string) []PriceRow {
	var rows []PriceRow
	for _, liMatch := range htmlListRe.FindAllStringSubmatch(t, -1) {
		plain := stripTags(liMatch[1])
		var parts []string
		for _, p := range dashSplitRe.Split(plain, -1) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 2 {
			continue
		}

		var cost decimal.NullDecimal
		for _, p := range parts[1:] {
			if m := moneyRe.FindStringSubmatch(p); m != nil {
				cost = xmlx.ToDecimal(m[1])
				break
			}
		}

		rows = append(rows, PriceRow{
			Code:     parts[0],
			Name:     parts[1],
			Cost:     cost,
			Currency: defaultCurrency,
		})
	}
	return rows
}

// probePaths are conventional price page locations scanned as a last-resort
// diagnostic when the API endpoints all come back empty.
var probePaths = []string{
	"/price", "/prices", "/pricelist", "/services", "/catalog", "/panels",
	"/lk/prices", "/lk/price", "/lk/services",
	"/uslugi", "/uslugi/ceny", "/stoimost", "/prajs", "/prajs-list",
}

var pageMoneyRe = regexp.MustCompile(`(?i)([\d\s]+[.,]\d{2}|\d+)\s*(?:р|руб|rub|₽)\b`)

// PageProbe records one fetched page and whether it smells like a price list.
type PageProbe struct {
	Path       string
	Status     int
	Size       int
	Body       string
	MoneyFound bool
	Err        error
}

// ProbePricePages fetches the conventional page paths plus any extras and
// scans each body for money patterns. Used by diagnostic tooling only; a
// per-page failure is recorded, not propagated.
func (c *Client) ProbePricePages(ctx context.Context, extra []string) []PageProbe {
	paths := append([]string{}, probePaths...)
	for _, p := range extra {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths = append(paths, p)
	}

	var probes []PageProbe
	for _, rel := range paths {
		resp, body, err := c.do(ctx, http.MethodGet, rel, nil, nil, "")
		if err != nil {
			probes = append(probes, PageProbe{Path: rel, Err: err})
			continue
		}
		pr := PageProbe{Path: rel, Status: resp.StatusCode, Size: len(body)}
		if resp.StatusCode == http.StatusOK && pr.Size > 0 {
			pr.Body = string(body)
			pr.MoneyFound = pageMoneyRe.Match(body)
		}
		probes = append(probes, pr)
	}
	return probes
}
