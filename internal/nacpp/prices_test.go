package nacpp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cost(t *testing.T, row PriceRow) decimal.Decimal {
	t.Helper()
	require.True(t, row.Cost.Valid, "cost should be set for %q", row.Code)
	return row.Cost.Decimal
}

func TestParsePricePayload_JSONObject(t *testing.T) {
	payload := `{"prices":[
		{"code":"CRP","name":"C-reactive protein","cost":"350.00","currency":"RUB"},
		{"code":"TSH","name":"Thyrotropin","cost":480}
	]}`

	rows := ParsePricePayload(payload, "RUB")
	require.Len(t, rows, 2)

	assert.Equal(t, "CRP", rows[0].Code)
	assert.Equal(t, "C-reactive protein", rows[0].Name)
	assert.True(t, cost(t, rows[0]).Equal(decimal.NewFromFloat(350.00)))
	assert.Equal(t, "RUB", rows[0].Currency)

	assert.Equal(t, "TSH", rows[1].Code)
	assert.True(t, cost(t, rows[1]).Equal(decimal.NewFromInt(480)), "numeric cost accepted")
	assert.Equal(t, "RUB", rows[1].Currency, "missing currency defaults")
}

func TestParsePricePayload_JSONBareList(t *testing.T) {
	rows := ParsePricePayload(`[{"code":"GLU","name":"Glucose","cost":"120,50"}]`, "RUB")
	require.Len(t, rows, 1)
	assert.True(t, cost(t, rows[0]).Equal(decimal.NewFromFloat(120.50)), "comma decimal normalized")
}

func TestParsePricePayload_XML(t *testing.T) {
	payload := `<prices>
		<price><code>CRP</code><name>C-reactive protein</name><cost>350.00</cost><currency>RUB</currency></price>
	</prices>`

	rows := ParsePricePayload(payload, "EUR")
	require.Len(t, rows, 1)
	assert.Equal(t, "CRP", rows[0].Code)
	assert.True(t, cost(t, rows[0]).Equal(decimal.NewFromFloat(350.00)))
	assert.Equal(t, "RUB", rows[0].Currency)
}

func TestParsePricePayload_HTMLTable(t *testing.T) {
	payload := `<html><body><table>
		<tr><td>CRP</td><td>C-reactive protein</td><td>350.00 руб</td></tr>
		<tr><td></td><td>header junk</td></tr>
	</table></body></html>`

	rows := ParsePricePayload(payload, "RUB")
	require.Len(t, rows, 1, "rows with an empty code cell are dropped")
	assert.Equal(t, "CRP", rows[0].Code)
	assert.Equal(t, "C-reactive protein", rows[0].Name)
	assert.True(t, cost(t, rows[0]).Equal(decimal.NewFromFloat(350.00)))
}

func TestParsePricePayload_HTMLList(t *testing.T) {
	payload := `<ul>
		<li>CRP — C-reactive protein — 350.00 ₽</li>
		<li>just text without a dash</li>
	</ul>`

	rows := ParsePricePayload(payload, "RUB")
	require.Len(t, rows, 1)
	assert.Equal(t, "CRP", rows[0].Code)
	assert.Equal(t, "C-reactive protein", rows[0].Name)
	assert.True(t, cost(t, rows[0]).Equal(decimal.NewFromFloat(350.00)))
}

func TestParsePricePayload_Unrecognizable(t *testing.T) {
	assert.Empty(t, ParsePricePayload("", "RUB"))
	assert.Empty(t, ParsePricePayload("plain text, no structure", "RUB"))
}

func TestDiscoverPriceEndpoints_CollectsNonEmptyBodies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		setSession(w)
	})
	mux.HandleFunc("/plugins/index.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("catalog") == "panelscategories":
			w.Write([]byte(categoriesXML))
		case q.Get("catalog") == "price" && len(q) == 2:
			w.Write([]byte(`{"prices":[{"code":"CRP","cost":"350.00"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := Connect(context.Background(), testConfig(srv.URL), zerolog.Nop())
	require.NoError(t, err)

	found, err := c.DiscoverPriceEndpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Contains(t, found[0].Body, `"CRP"`)
	assert.Equal(t, "price", found[0].Params.Get("catalog"))
}
