package reconcile

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/storage"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
)

type fixture struct {
	store   *storage.SQLStore
	comp    *model.Competitor
	session *model.ScrapeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	comp := &model.Competitor{OwnerID: uuid.New(), Name: "Fleurs de Tunis", BaseURL: "https://fleurs.example.tn", IsActive: true}
	if err := s.CreateCompetitor(ctx, comp); err != nil {
		t.Fatalf("create competitor: %v", err)
	}
	sess := &model.ScrapeSession{CompetitorID: comp.ID}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return &fixture{store: s, comp: comp, session: sess}
}

func (f *fixture) reconcile(t *testing.T, records ...extractor.Product) int {
	t.Helper()
	n, err := New(f.store).Reconcile(context.Background(), f.comp, f.session.ID, records)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return n
}

func (f *fixture) products(t *testing.T) []model.Product {
	t.Helper()
	ps, err := f.store.ListProducts(context.Background(), f.comp.ID)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	return ps
}

func (f *fixture) history(t *testing.T, productID uuid.UUID) []float64 {
	t.Helper()
	rows, err := f.store.RecentPrices(context.Background(), productID, 100)
	if err != nil {
		t.Fatalf("RecentPrices() error = %v", err)
	}
	var prices []float64
	for _, h := range rows {
		if !h.ScrapeSessionID.Valid || h.ScrapeSessionID.UUID != f.session.ID {
			t.Errorf("history row %d session = %v, want %s", h.ID, h.ScrapeSessionID, f.session.ID)
		}
		prices = append(prices, h.Price)
	}
	return prices
}

func (f *fixture) alerts(t *testing.T) []model.Alert {
	t.Helper()
	as, err := f.store.ListAlerts(context.Background(), storage.AlertFilter{
		CompetitorID: uuid.NullUUID{UUID: f.comp.ID, Valid: true},
	})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	return as
}

func record(id, name string, price float64) extractor.Product {
	return extractor.Product{ProductIdentifier: id, Name: name, Price: price, Currency: "DT", IsAvailable: true}
}

func TestReconcile_NewThenExistingProduct(t *testing.T) {
	f := newFixture(t)

	if n := f.reconcile(t, record("SKU1", "Red roses", 100)); n != 1 {
		t.Fatalf("first Reconcile() saved = %d, want 1", n)
	}

	ps := f.products(t)
	if len(ps) != 1 {
		t.Fatalf("products = %d, want 1", len(ps))
	}
	p := ps[0]
	if p.Name != "Red roses" || p.CurrentPrice != 100 || p.ProductURL != f.comp.BaseURL {
		t.Errorf("product = %+v", p)
	}

	alerts := f.alerts(t)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Type != model.AlertNewProduct || a.Severity != model.SeverityMedium || a.Title != "New product: Red roses" {
		t.Errorf("alert = %+v", a)
	}
	if a.OwnerID != f.comp.OwnerID || !a.ProductID.Valid || a.ProductID.UUID != p.ID {
		t.Errorf("alert links = owner %s product %v", a.OwnerID, a.ProductID)
	}
	if diff := cmp.Diff(map[string]any{"name": "Red roses", "price": float64(100)}, a.NewValue); diff != "" {
		t.Errorf("alert new_value mismatch (-want +got):\n%s", diff)
	}

	// A later sighting with different details leaves the product untouched.
	if n := f.reconcile(t, record("SKU1", "Renamed roses", 110)); n != 1 {
		t.Fatalf("second Reconcile() saved = %d, want 1", n)
	}

	ps = f.products(t)
	if len(ps) != 1 || ps[0].Name != "Red roses" || ps[0].CurrentPrice != 100 {
		t.Errorf("products after second run = %+v", ps)
	}
	if diff := cmp.Diff([]float64{110, 100}, f.history(t, p.ID)); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if n := len(f.alerts(t)); n != 1 {
		t.Errorf("alerts = %d, want 1", n)
	}
}

func TestReconcile_DuplicateIdentifierInBatch(t *testing.T) {
	f := newFixture(t)

	n := f.reconcile(t, record("SKU1", "Tulips", 20), record("SKU1", "Tulips", 22))
	if n != 2 {
		t.Errorf("saved = %d, want 2", n)
	}

	ps := f.products(t)
	if len(ps) != 1 {
		t.Fatalf("products = %d, want 1", len(ps))
	}
	if got := len(f.history(t, ps[0].ID)); got != 2 {
		t.Errorf("history rows = %d, want 2", got)
	}
	if got := len(f.alerts(t)); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
}

func TestReconcile_SkipsFailingRecord(t *testing.T) {
	f := newFixture(t)

	// A zero price violates the store's CHECK constraint.
	n := f.reconcile(t,
		record("SKU1", "Roses", 10),
		record("SKU2", "Broken", 0),
		record("SKU3", "Lilies", 30),
	)
	if n != 2 {
		t.Errorf("saved = %d, want 2", n)
	}

	var ids []string
	for _, p := range f.products(t) {
		ids = append(ids, p.Identifier)
	}
	if diff := cmp.Diff([]string{"SKU1", "SKU3"}, ids); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
	if got := len(f.alerts(t)); got != 2 {
		t.Errorf("alerts = %d, want 2", got)
	}
}

func TestReconcile_KeepsProductURL(t *testing.T) {
	f := newFixture(t)

	rec := record("SKU1", "Orchid", 45)
	rec.ProductURL = "https://fleurs.example.tn/p/orchid"
	rec.Category = "Plants"
	f.reconcile(t, rec)

	p := f.products(t)[0]
	if p.ProductURL != rec.ProductURL || p.Category != "Plants" {
		t.Errorf("product = %+v", p)
	}
}

func TestReconcile_Empty(t *testing.T) {
	f := newFixture(t)
	if n := f.reconcile(t); n != 0 {
		t.Errorf("saved = %d, want 0", n)
	}
}
