package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsync/labsync/internal/domain/catalog"
)

type passTx struct{}

func (passTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memOrderRepo struct {
	orders  map[string]*Order
	panels  map[string]*OrderPanel
	entries []*ResultEntry
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{
		orders: map[string]*Order{},
		panels: map[string]*OrderPanel{},
	}
}

func (m *memOrderRepo) GetOrCreateOrder(_ context.Context, number string) (*Order, bool, error) {
	if o, ok := m.orders[number]; ok {
		return o, false, nil
	}
	o := &Order{ID: uuid.New(), Number: number}
	m.orders[number] = o
	return o, true, nil
}

func (m *memOrderRepo) UpsertOrderPanel(_ context.Context, op *OrderPanel) error {
	key := op.OrderID.String() + "|" + op.PanelCode
	if prev, ok := m.panels[key]; ok {
		op.ID = prev.ID
		if op.PanelID == nil {
			op.PanelID = prev.PanelID
		}
		*prev = *op
		return nil
	}
	op.ID = uuid.New()
	cp := *op
	m.panels[key] = &cp
	return nil
}

func (m *memOrderRepo) EnsureResultEntry(_ context.Context, e *ResultEntry) (bool, error) {
	for _, prev := range m.entries {
		if prev.OrderPanelID == e.OrderPanelID &&
			uuidPtrEq(prev.TestID, e.TestID) &&
			uuidPtrEq(prev.AnalyteID, e.AnalyteID) &&
			prev.Value == e.Value && prev.Unit == e.Unit &&
			prev.NormLow == e.NormLow && prev.NormHigh == e.NormHigh &&
			prev.Comment == e.Comment && prev.RawResult == e.RawResult &&
			prev.ReleasedDoctor == e.ReleasedDoctor {
			e.ID = prev.ID
			return false, nil
		}
	}
	e.ID = uuid.New()
	cp := *e
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *memOrderRepo) ResultsByOrderPanel(_ context.Context, orderPanelID uuid.UUID) ([]*ResultEntry, error) {
	var out []*ResultEntry
	for _, e := range m.entries {
		if e.OrderPanelID == orderPanelID {
			out = append(out, e)
		}
	}
	return out, nil
}

func uuidPtrEq(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type memCatalog struct {
	panels   map[string]*catalog.Panel
	tests    map[string]*catalog.Test
	analytes map[uuid.UUID][]*catalog.Analyte
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		panels:   map[string]*catalog.Panel{},
		tests:    map[string]*catalog.Test{},
		analytes: map[uuid.UUID][]*catalog.Analyte{},
	}
}

func (m *memCatalog) addPanel(code string) *catalog.Panel {
	p := &catalog.Panel{ID: uuid.New(), Code: code, Name: code}
	m.panels[code] = p
	return p
}

func (m *memCatalog) addTest(code string, analyteSpecs ...[2]string) *catalog.Test {
	t := &catalog.Test{ID: uuid.New(), Code: code, Name: code}
	m.tests[code] = t
	for _, spec := range analyteSpecs {
		m.analytes[t.ID] = append(m.analytes[t.ID], &catalog.Analyte{
			ID: uuid.New(), TestID: t.ID, Code: spec[0], Name: spec[1],
		})
	}
	return t
}

func (m *memCatalog) GetPanelByCode(_ context.Context, code string) (*catalog.Panel, error) {
	if p, ok := m.panels[code]; ok {
		return p, nil
	}
	return nil, nil
}

func (m *memCatalog) GetTestByCode(_ context.Context, code string) (*catalog.Test, error) {
	if t, ok := m.tests[code]; ok {
		return t, nil
	}
	return nil, nil
}

func (m *memCatalog) AnalytesByTest(_ context.Context, testID uuid.UUID) ([]*catalog.Analyte, error) {
	return m.analytes[testID], nil
}

// stubOrders serves fixture XML per order number; a missing number fails the
// fetch the way an upstream error would.
type stubOrders struct {
	pending string
	period  string
	results map[string]string

	fetched []string
}

func parseXML(src string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src); err != nil {
		return nil, err
	}
	return doc.Root(), nil
}

func (s *stubOrders) Pending(context.Context) (*etree.Element, error) {
	return parseXML(s.pending)
}

func (s *stubOrders) OrdersByPeriod(_ context.Context, _, _ string, _ bool) (*etree.Element, error) {
	return parseXML(s.period)
}

func (s *stubOrders) ResultsForOrder(_ context.Context, orderNo string) (*etree.Element, error) {
	s.fetched = append(s.fetched, orderNo)
	src, ok := s.results[orderNo]
	if !ok {
		return nil, fmt.Errorf("order %s: upstream refused", orderNo)
	}
	return parseXML(src)
}

const resultsXML = `<order>
	<panel code="P1"><status>released</status><released_doctor>Ivanova</released_doctor>
		<test code="T1"><released_doctor>Petrov</released_doctor>
			<analyte code="A1"><value>5.2</value><unit>mmol/L</unit><low>3.9</low><high>6.1</high></analyte>
			<analyte><name>hemoglobin</name><value>140</value><unit>g/L</unit></analyte>
		</test>
	</panel>
</order>`

func seededCatalog() *memCatalog {
	cat := newMemCatalog()
	cat.addPanel("P1")
	cat.addTest("T1", [2]string{"A1", "Glucose"}, [2]string{"T1::Hemoglobin", "Hemoglobin"})
	return cat
}

func newTestSyncer(fetch Fetcher, repo Repository, cat CatalogLookup) *Syncer {
	return NewSyncer(fetch, repo, cat, passTx{}, zerolog.Nop())
}

func TestSyncer_CollectsFromBothSources(t *testing.T) {
	fetch := &stubOrders{
		pending: `<orders><orderno>ORD-2</orderno><orderno>ORD-1</orderno></orders>`,
		period:  `<orders><order><orderno>ORD-3</orderno></order><order><orderno>ORD-2</orderno></order></orders>`,
		results: map[string]string{
			"ORD-1": resultsXML, "ORD-2": resultsXML, "ORD-3": resultsXML,
		},
	}
	repo := newMemOrderRepo()
	sync := newTestSyncer(fetch, repo, seededCatalog())

	stats, err := sync.Run(context.Background(), Options{
		OnlyPending: true, DateStart: "2026/08/01", DateEnd: "2026/08/31",
	})

	require.NoError(t, err)
	assert.Equal(t, 3, stats.Orders, "numbers from both sources are deduplicated")
	assert.Equal(t, []string{"ORD-1", "ORD-2", "ORD-3"}, fetch.fetched, "orders processed in sorted order")
	assert.Len(t, repo.orders, 3)
}

func TestSyncer_FailingOrderSkipped(t *testing.T) {
	fetch := &stubOrders{
		pending: `<orders><orderno>ORD-1</orderno><orderno>ORD-2</orderno><orderno>ORD-3</orderno></orders>`,
		results: map[string]string{"ORD-1": resultsXML, "ORD-3": resultsXML},
	}
	repo := newMemOrderRepo()
	sync := newTestSyncer(fetch, repo, seededCatalog())

	stats, err := sync.Run(context.Background(), Options{})

	require.NoError(t, err, "a failing order is never fatal")
	assert.Equal(t, 2, stats.Orders)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, repo.orders, "ORD-3", "orders after the failure still sync")
}

func TestSyncer_ResultEntriesAppendOnly(t *testing.T) {
	fetch := &stubOrders{
		pending: `<orders><orderno>ORD-1</orderno></orders>`,
		results: map[string]string{"ORD-1": resultsXML},
	}
	repo := newMemOrderRepo()
	cat := seededCatalog()

	stats, err := newTestSyncer(fetch, repo, cat).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Results)
	assert.Len(t, repo.entries, 2)

	stats, err = newTestSyncer(fetch, repo, cat).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Results, "identical result rows are not re-inserted")
	assert.Len(t, repo.entries, 2)

	// A corrected value is a new row; the old one stays as history.
	fetch.results["ORD-1"] = `<order><panel code="P1">
		<test code="T1">
			<analyte code="A1"><value>5.4</value><unit>mmol/L</unit><low>3.9</low><high>6.1</high></analyte>
		</test>
	</panel></order>`
	stats, err = newTestSyncer(fetch, repo, cat).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Results)
	assert.Len(t, repo.entries, 3)
}

func TestSyncer_AnalyteResolution(t *testing.T) {
	fetch := &stubOrders{
		pending: `<orders><orderno>ORD-1</orderno></orders>`,
		results: map[string]string{"ORD-1": resultsXML},
	}
	repo := newMemOrderRepo()
	cat := seededCatalog()

	_, err := newTestSyncer(fetch, repo, cat).Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, repo.entries, 2)

	byValue := map[string]*ResultEntry{}
	for _, e := range repo.entries {
		byValue[e.Value] = e
	}

	glucose := byValue["5.2"]
	require.NotNil(t, glucose.AnalyteID, "resolved by code")
	assert.Equal(t, cat.analytes[cat.tests["T1"].ID][0].ID, *glucose.AnalyteID)
	assert.Equal(t, "Petrov", glucose.ReleasedDoctor, "doctor taken from the test node")

	hemoglobin := byValue["140"]
	require.NotNil(t, hemoglobin.AnalyteID, "resolved by case-insensitive name")
	assert.Equal(t, cat.analytes[cat.tests["T1"].ID][1].ID, *hemoglobin.AnalyteID)
}

func TestSyncer_UnresolvedReferencesKeepRawRows(t *testing.T) {
	fetch := &stubOrders{
		pending: `<orders><orderno>ORD-1</orderno></orders>`,
		results: map[string]string{"ORD-1": `<order>
			<panel code="UNKNOWN-PANEL"><status>released</status>
				<test code="UNKNOWN-TEST">
					<analyte code="X1"><value>12</value></analyte>
				</test>
			</panel>
		</order>`},
	}
	repo := newMemOrderRepo()
	sync := newTestSyncer(fetch, repo, seededCatalog())

	stats, err := sync.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Panels)
	assert.Equal(t, 1, stats.Results)
	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Nil(t, entry.TestID, "unknown test code is stored without an FK")
	assert.Nil(t, entry.AnalyteID)
	assert.Equal(t, "12", entry.Value)

	for _, op := range repo.panels {
		assert.Nil(t, op.PanelID, "unknown panel code is stored without an FK")
		assert.Equal(t, "UNKNOWN-PANEL", op.PanelCode)
	}
}
