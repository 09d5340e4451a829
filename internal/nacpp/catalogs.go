package nacpp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/beevik/etree"
)

// Catalog fetches one named reference catalog
// (GET /plugins/index.php?act=get-catalog&catalog=<name>) and returns the
// parsed root element. A 404 or empty body maps to ErrCatalogNotFound so
// call sites can skip optional catalogs explicitly instead of pattern
// matching on generic errors.
func (c *Client) Catalog(ctx context.Context, name string, params url.Values) (*etree.Element, error) {
	q := url.Values{"act": {"get-catalog"}, "catalog": {name}}
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	resp, body, err := c.do(ctx, http.MethodGet, "/plugins/index.php", q, nil, "")
	if err != nil {
		return nil, &TransportError{URL: "/plugins/index.php?catalog=" + name, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("catalog %q: %w", name, ErrCatalogNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: resp.Request.URL.String(), Status: resp.StatusCode}
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, fmt.Errorf("catalog %q: %w", name, ErrCatalogNotFound)
	}

	doc, err := parseXML(resp.Request.URL.String(), body)
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

func (c *Client) ContainerTypes(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "containertypes", nil)
}

func (c *Client) Tests(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "tests", nil)
}

// Biomaterials reads the "bio" catalog, optionally asking for barcode info.
func (c *Client) Biomaterials(ctx context.Context, barcodeInfo bool) (*etree.Element, error) {
	var p url.Values
	if barcodeInfo {
		p = url.Values{"barcodeinfo": {""}}
	}
	return c.Catalog(ctx, "bio", p)
}

// Panels reads the panel catalog; includeCategories asks the upstream to
// annotate each panel with its category code (panel[@category]).
func (c *Client) Panels(ctx context.Context, includeCategories bool) (*etree.Element, error) {
	var p url.Values
	if includeCategories {
		p = url.Values{"categories": {"1"}}
	}
	return c.Catalog(ctx, "panels", p)
}

func (c *Client) PanelCategories(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "panelscategories", nil)
}

func (c *Client) TestsRequirements(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "testsrequirements", nil)
}

// LinkedPanels reads the panel-relation catalog. Not every installation has
// it; callers check ErrCatalogNotFound and skip.
func (c *Client) LinkedPanels(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "linkedpanels", nil)
}

func (c *Client) Preanalytics(ctx context.Context) (*etree.Element, error) {
	return c.Catalog(ctx, "preanalytics", nil)
}

// Pending returns the list of order numbers awaiting pickup.
func (c *Client) Pending(ctx context.Context) (*etree.Element, error) {
	doc, err := c.FetchXML(ctx, "/plugins/index.php", url.Values{"act": {"pending"}})
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// OrdersByPeriod posts a date-range request and returns the order list.
// extended selects the richer request-ordersinfo act.
func (c *Client) OrdersByPeriod(ctx context.Context, dateStart, dateEnd string, extended bool) (*etree.Element, error) {
	act := "request-orders"
	if extended {
		act = "request-ordersinfo"
	}
	body := `<?xml version="1.0" encoding="utf-8"?>` +
		fmt.Sprintf("<request><date_start>%s</date_start><date_end>%s</date_end></request>", dateStart, dateEnd)
	doc, err := c.PostXML(ctx, "/plugins/index.php", url.Values{"act": {act}}, body)
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

// ResultsForOrder fetches released results for one order number.
func (c *Client) ResultsForOrder(ctx context.Context, orderNo string) (*etree.Element, error) {
	doc, err := c.FetchXML(ctx, "/plugins/index.php",
		url.Values{"act": {"get-result"}, "orderno": {orderNo}})
	if err != nil {
		return nil, err
	}
	return doc.Root(), nil
}
