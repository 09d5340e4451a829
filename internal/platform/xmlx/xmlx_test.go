package xmlx

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(src))
	return doc.Root()
}

func TestText(t *testing.T) {
	el := parse(t, `<test><name>  CRP  </name><unit></unit></test>`)

	assert.Equal(t, "CRP", Text(el, "name", "def"))
	assert.Equal(t, "def", Text(el, "unit", "def"), "empty text falls back to default")
	assert.Equal(t, "def", Text(el, "missing", "def"))
	assert.Equal(t, "def", Text(nil, "name", "def"))
}

func TestAttr(t *testing.T) {
	el := parse(t, `<containertype code=" K2 " color=""/>`)

	assert.Equal(t, "K2", Attr(el, "code", ""))
	assert.Equal(t, "red", Attr(el, "color", "red"), "empty attribute falls back to default")
	assert.Equal(t, "", Attr(el, "missing", ""))
}

func TestFirstMatch(t *testing.T) {
	tests := []struct {
		name string
		src  string
		keys []string
		want string
	}{
		{
			name: "attribute wins over child",
			src:  `<test code="ATTR"><code>CHILD</code></test>`,
			keys: []string{"code"},
			want: "ATTR",
		},
		{
			name: "falls through to child text",
			src:  `<test><code>CHILD</code></test>`,
			keys: []string{"code"},
			want: "CHILD",
		},
		{
			name: "keys tried in order",
			src:  `<test><id>1</id><code>2</code></test>`,
			keys: []string{"code", "id"},
			want: "2",
		},
		{
			name: "empty values skipped",
			src:  `<test code=""><code>CHILD</code></test>`,
			keys: []string{"code"},
			want: "CHILD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstMatch(parse(t, tt.src), tt.keys, ""))
		})
	}

	assert.Equal(t, "def", FirstMatch(parse(t, `<x/>`), []string{"code"}, "def"))
}

func TestDeepSearch(t *testing.T) {
	el := parse(t, `
		<container>
			<wrapper>
				<inner biomaterial_code="BLD"/>
			</wrapper>
			<biomaterial>SER</biomaterial>
		</container>`)

	// Document order: the nested attribute comes before the sibling tag.
	assert.Equal(t, "BLD", DeepSearch(el, []string{"biomaterial"}))

	// Name match is contains, case-insensitive.
	el2 := parse(t, `<c><BioMaterialType>URN</BioMaterialType></c>`)
	assert.Equal(t, "URN", DeepSearch(el2, []string{"biomaterial"}))

	assert.Equal(t, "", DeepSearch(el, []string{"containertype"}))
	assert.Equal(t, "", DeepSearch(nil, []string{"x"}))
}

func TestToDecimal(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"350.00", "350", true},
		{"2 700,50", "2700.5", true},
		{" 1550 ", "1550", true},
		{"1 200", "1200", true},
		{"", "", false},
		{"n/a", "", false},
		{"1,234.56", "", false}, // comma becomes a second dot
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ToDecimal(tt.in)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.True(t, got.Decimal.Equal(mustDecimal(t, tt.want)),
					"got %s want %s", got.Decimal, tt.want)
			}
		})
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
