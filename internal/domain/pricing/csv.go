package pricing

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/labsync/labsync/internal/platform/xmlx"
)

// Header spellings seen in real price exports. Detection tries an exact
// match first, then a case-insensitive match with BOM and padding stripped.
var (
	codeHeaders = []string{
		"code", "код", "код_исследования", "service_code", "test_code",
		"panel_code", "Код", "Код_исследования",
	}
	priceHeaders = []string{
		"price", "cost", "цена", "стоимость", "amount", "Price", "Стоимость",
	}
	currencyHeaders = []string{
		"currency", "валюта", "Currency", "Валюта",
	}
)

// ServiceRow is one parsed price line keyed by service code.
type ServiceRow struct {
	Code     string
	Cost     decimal.Decimal
	Currency string
}

// CSVOptions controls reading of the per-service price file.
type CSVOptions struct {
	Delimiter       rune
	Encoding        string
	DefaultCurrency string

	// Column overrides; when empty the column is auto-detected by header.
	ColCode     string
	ColPrice    string
	ColCurrency string
}

func (o CSVOptions) withDefaults() CSVOptions {
	if o.Delimiter == 0 {
		o.Delimiter = ';'
	}
	if o.DefaultCurrency == "" {
		o.DefaultCurrency = "RUB"
	}
	o.DefaultCurrency = clampCurrency(o.DefaultCurrency)
	return o
}

func clampCurrency(c string) string {
	r := []rune(c)
	if len(r) > 8 {
		r = r[:8]
	}
	return string(r)
}

// decodeReader wraps r with a charset decoder when the export is not UTF-8.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	var enc *charmap.Charmap
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "cp1251", "windows-1251", "windows1251":
		enc = charmap.Windows1251
	case "koi8-r", "koi8r":
		enc = charmap.KOI8R
	case "cp866", "ibm866":
		enc = charmap.CodePage866
	case "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	var e encoding.Encoding = enc
	return transform.NewReader(r, e.NewDecoder()), nil
}

func cleanHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
}

func findColumn(headers []string, candidates []string) int {
	for i, h := range headers {
		for _, c := range candidates {
			if h == c {
				return i
			}
		}
	}
	for i, h := range headers {
		for _, c := range candidates {
			if cleanHeader(h) == cleanHeader(c) {
				return i
			}
		}
	}
	return -1
}

func resolveColumn(headers []string, override string, candidates []string) int {
	if override != "" {
		return findColumn(headers, []string{override})
	}
	return findColumn(headers, candidates)
}

// LoadServicesCSV reads the per-service price file into a map keyed by code.
// Rows with no code or an unparsable price are counted invalid and dropped;
// duplicate codes keep the last row.
func LoadServicesCSV(path string, opts CSVOptions) (map[string]ServiceRow, int, error) {
	opts = opts.withDefaults()

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := decodeReader(f, opts.Encoding)
	if err != nil {
		return nil, 0, err
	}

	r := csv.NewReader(dec)
	r.Comma = opts.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("%s: file is empty", path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%s: read header: %w", path, err)
	}
	headers[0] = strings.TrimPrefix(headers[0], "\uFEFF")

	codeIdx := resolveColumn(headers, opts.ColCode, codeHeaders)
	priceIdx := resolveColumn(headers, opts.ColPrice, priceHeaders)
	currencyIdx := resolveColumn(headers, opts.ColCurrency, currencyHeaders)
	if codeIdx < 0 || priceIdx < 0 {
		return nil, 0, fmt.Errorf(
			"%s: code or price column not found in headers %v, use explicit column flags",
			path, headers)
	}

	rows := make(map[string]ServiceRow)
	invalid := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			invalid++
			continue
		}

		code := ""
		if codeIdx < len(rec) {
			code = strings.TrimSpace(strings.TrimPrefix(rec[codeIdx], "\uFEFF"))
		}
		var cost decimal.NullDecimal
		if priceIdx < len(rec) {
			cost = xmlx.ToDecimal(rec[priceIdx])
		}
		if code == "" || !cost.Valid {
			invalid++
			continue
		}

		currency := ""
		if currencyIdx >= 0 && currencyIdx < len(rec) {
			currency = strings.TrimSpace(rec[currencyIdx])
		}
		if currency == "" {
			currency = opts.DefaultCurrency
		}

		rows[code] = ServiceRow{
			Code:     code,
			Cost:     cost.Decimal,
			Currency: clampCurrency(currency),
		}
	}
	return rows, invalid, nil
}

// LoadPanelPricesCSV reads the flat panel price file, plain "code;price"
// lines with no header unless hasHeader is set.
func LoadPanelPricesCSV(path string, delimiter rune, enc string, hasHeader bool) (map[string]decimal.Decimal, int, error) {
	if delimiter == 0 {
		delimiter = ';'
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := decodeReader(f, enc)
	if err != nil {
		return nil, 0, err
	}

	r := csv.NewReader(dec)
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	prices := make(map[string]decimal.Decimal)
	invalid := 0
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			invalid++
			continue
		}
		if first {
			first = false
			if hasHeader {
				continue
			}
		}
		if len(rec) < 2 {
			invalid++
			continue
		}
		code := strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF"))
		price := xmlx.ToDecimal(rec[1])
		if code == "" || !price.Valid {
			invalid++
			continue
		}
		prices[code] = price.Decimal
	}
	return prices, invalid, nil
}
