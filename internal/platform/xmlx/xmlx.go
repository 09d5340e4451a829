// Package xmlx holds the tolerant value-extraction helpers used against the
// upstream lab system's XML. The upstream encodes the same concept under
// different tag or attribute names from one installation to the next, so
// extraction works over candidate-name lists instead of fixed paths.
package xmlx

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// Text returns the trimmed text of the immediate child at path, or def when
// the child is absent or empty.
func Text(el *etree.Element, path string, def string) string {
	if el == nil {
		return def
	}
	child := el.FindElement("./" + path)
	if child == nil {
		return def
	}
	if s := strings.TrimSpace(child.Text()); s != "" {
		return s
	}
	return def
}

// Attr returns the trimmed attribute value, or def when absent or empty.
func Attr(el *etree.Element, name string, def string) string {
	if el == nil {
		return def
	}
	if s := strings.TrimSpace(el.SelectAttrValue(name, "")); s != "" {
		return s
	}
	return def
}

// FirstMatch tries each candidate key in order against both the attributes
// and the immediate child-tag text of el, returning the first non-empty hit.
func FirstMatch(el *etree.Element, keys []string, def string) string {
	if el == nil {
		return def
	}
	for _, key := range keys {
		if s := strings.TrimSpace(el.SelectAttrValue(key, "")); s != "" {
			return s
		}
		if s := Text(el, key, ""); s != "" {
			return s
		}
	}
	return def
}

// DeepSearch walks the entire subtree of el in document order, looking for
// any attribute or tag whose name equals or contains one of the candidate
// keys, and returns the first non-empty value found. Nesting depth of the
// interesting fields is installation-specific, hence the recursive fallback.
func DeepSearch(el *etree.Element, keys []string) string {
	if el == nil {
		return ""
	}
	for _, attr := range el.Attr {
		if !nameMatches(attr.Key, keys) {
			continue
		}
		if s := strings.TrimSpace(attr.Value); s != "" {
			return s
		}
	}
	for _, child := range el.ChildElements() {
		if nameMatches(child.Tag, keys) {
			if s := strings.TrimSpace(child.Text()); s != "" {
				return s
			}
		}
		if s := DeepSearch(child, keys); s != "" {
			return s
		}
	}
	return ""
}

func nameMatches(name string, keys []string) bool {
	lower := strings.ToLower(name)
	for _, key := range keys {
		if strings.Contains(lower, strings.ToLower(key)) {
			return true
		}
	}
	return false
}

// ToDecimal normalizes space-grouped thousands and comma decimals, then
// parses. Unparseable input yields an invalid NullDecimal, never an error:
// callers treat it as "no value".
func ToDecimal(raw string) decimal.NullDecimal {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
