package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/storage"
	"github.com/jmylchreest/pricewatch/pkg/batcher"
	"github.com/jmylchreest/pricewatch/pkg/cleaner"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
	"github.com/jmylchreest/pricewatch/pkg/fetcher"
	"github.com/jmylchreest/pricewatch/pkg/llm"
)

type fakeFetcher struct {
	html  string
	err   error
	panic bool
	calls int
	opts  fetcher.Options
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, opts fetcher.Options) (fetcher.Content, error) {
	f.calls++
	f.opts = opts
	if f.panic {
		panic("browser crashed")
	}
	if f.err != nil {
		return fetcher.Content{URL: url}, f.err
	}
	return fetcher.Content{URL: url, HTML: f.html}, nil
}

func (f *fakeFetcher) Close() error { return nil }
func (f *fakeFetcher) Type() string { return "fake" }

// fakeExtractor answers every batch with fn and records the batches seen.
type fakeExtractor struct {
	mu      sync.Mutex
	batches []string
	fn      func(batch string) (*extractor.Result, error)
}

func (f *fakeExtractor) Extract(_ context.Context, batch, _ string) (*extractor.Result, error) {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	return f.fn(batch)
}

func priced(price float64, promotions ...string) func(string) (*extractor.Result, error) {
	return func(string) (*extractor.Result, error) {
		return &extractor.Result{
			Products: []extractor.Product{
				{ProductIdentifier: "SKU1", Name: "Red roses", Price: price, Currency: "DT", IsAvailable: true},
				{ProductIdentifier: "SKU2", Name: "Tulips", Price: 20, Currency: "DT", IsAvailable: true},
			},
			Promotions: promotions,
			Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20},
			Attempts:   1,
		}, nil
	}
}

const shopPage = `<nav>Home | Shop</nav><div><h2>Red roses</h2><span>100 DT</span></div>
<div><h2>Tulips</h2><span>20 DT</span></div><footer>Contact</footer>`

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedCompetitor(t *testing.T, s *storage.SQLStore, active bool) *model.Competitor {
	t.Helper()
	c := &model.Competitor{OwnerID: uuid.New(), Name: "Fleurs de Tunis", BaseURL: "https://fleurs.example.tn", IsActive: active}
	if err := s.CreateCompetitor(context.Background(), c); err != nil {
		t.Fatalf("create competitor: %v", err)
	}
	return c
}

func loadSession(t *testing.T, s *storage.SQLStore, res ScrapeResult) *model.ScrapeSession {
	t.Helper()
	id, err := uuid.Parse(res.SessionID)
	if err != nil {
		t.Fatalf("session id %q: %v", res.SessionID, err)
	}
	sess, err := s.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	return sess
}

func TestRunScrape_Success(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	ex := &fakeExtractor{fn: priced(100, "Spring sale", "Free delivery", "Spring sale")}

	res := New(s, &fakeFetcher{html: shopPage}, ex, DefaultOptions()).RunScrape(ctx, comp.ID)

	if !res.Success || res.Error != "" {
		t.Fatalf("RunScrape() = %+v, want success", res)
	}
	if res.ProductsFound != 2 || res.TokensUsed != 120 {
		t.Errorf("ProductsFound = %d TokensUsed = %d, want 2 and 120", res.ProductsFound, res.TokensUsed)
	}
	if diff := cmp.Diff([]string{"Spring sale", "Free delivery"}, res.Promotions); diff != "" {
		t.Errorf("promotions mismatch (-want +got):\n%s", diff)
	}

	// The cleaner dropped navigation chrome before extraction.
	if len(ex.batches) != 1 || strings.Contains(ex.batches[0], "Contact") || !strings.Contains(ex.batches[0], "Red roses 100 DT") {
		t.Errorf("batches = %q", ex.batches)
	}

	sess := loadSession(t, s, res)
	if sess.Status != model.StatusCompleted || sess.ProductsFound != 2 || sess.TokensUsed != 120 {
		t.Errorf("session = %+v", sess)
	}
	if sess.CompletedAt == nil || sess.Error != nil {
		t.Errorf("session completed_at = %v error = %v", sess.CompletedAt, sess.Error)
	}
	if sess.RawContent != shopPage {
		t.Errorf("raw content = %q", sess.RawContent)
	}

	got, _ := s.GetCompetitor(ctx, comp.ID)
	if got.LastScrapedAt == nil {
		t.Error("last_scraped_at not set")
	}
	products, _ := s.ListProducts(ctx, comp.ID)
	if len(products) != 2 {
		t.Errorf("products = %d, want 2", len(products))
	}
}

func TestRunScrape_FetchOptions(t *testing.T) {
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	f := &fakeFetcher{html: shopPage}

	opts := DefaultOptions()
	opts.UserAgent = "pricewatch-test/1.0"
	opts.NavigationTimeout = 12 * time.Second
	opts.WaitForSelector = ".product-grid"
	opts.WaitDuration = 750 * time.Millisecond
	opts.Headers = map[string]string{"Accept-Language": "fr-TN"}

	res := New(s, f, &fakeExtractor{fn: priced(100)}, opts).RunScrape(context.Background(), comp.ID)
	if !res.Success {
		t.Fatalf("RunScrape() = %+v, want success", res)
	}

	want := fetcher.Options{
		UserAgent:       "pricewatch-test/1.0",
		Timeout:         12 * time.Second,
		WaitForSelector: ".product-grid",
		WaitDuration:    750 * time.Millisecond,
		Headers:         map[string]string{"Accept-Language": "fr-TN"},
	}
	if diff := cmp.Diff(want, f.opts); diff != "" {
		t.Errorf("fetch options mismatch (-want +got):\n%s", diff)
	}
}

func TestRunScrape_Failures(t *testing.T) {
	tests := []struct {
		name      string
		fetcher   *fakeFetcher
		extract   func(string) (*extractor.Result, error)
		wantStage string
	}{
		{
			name:      "navigation timeout",
			fetcher:   &fakeFetcher{err: fmt.Errorf("%w: after 30s", fetcher.ErrNavigationTimeout)},
			wantStage: StageFetch,
		},
		{
			name:      "fetcher panic",
			fetcher:   &fakeFetcher{panic: true},
			wantStage: StageFetch,
		},
		{
			name:    "extraction aborted",
			fetcher: &fakeFetcher{html: shopPage},
			extract: func(string) (*extractor.Result, error) {
				return &extractor.Result{}, context.DeadlineExceeded
			},
			wantStage: StageExtract,
		},
		{
			name:    "extractor panic",
			fetcher: &fakeFetcher{html: shopPage},
			extract: func(string) (*extractor.Result, error) {
				panic("nil map")
			},
			wantStage: StageExtract,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t)
			comp := seedCompetitor(t, s, true)
			ex := &fakeExtractor{fn: tt.extract}
			if ex.fn == nil {
				ex.fn = priced(100)
			}

			res := New(s, tt.fetcher, ex, DefaultOptions()).RunScrape(ctx, comp.ID)

			if res.Success || res.Error == "" || res.SessionID == "" {
				t.Fatalf("RunScrape() = %+v, want failure with session", res)
			}
			sess := loadSession(t, s, res)
			if sess.Status != model.StatusFailed || sess.CompletedAt == nil {
				t.Errorf("session status = %s completed_at = %v", sess.Status, sess.CompletedAt)
			}
			if sess.Error == nil || sess.Error.Stage != tt.wantStage || sess.Error.Message != res.Error {
				t.Errorf("session error = %+v, want stage %s", sess.Error, tt.wantStage)
			}

			products, _ := s.ListProducts(ctx, comp.ID)
			if len(products) != 0 {
				t.Errorf("products = %d, want none", len(products))
			}
			got, _ := s.GetCompetitor(ctx, comp.ID)
			if got.LastScrapedAt != nil {
				t.Error("last_scraped_at set on a failed scrape")
			}
		})
	}
}

func TestRunScrape_FailedSessionIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)

	res := New(s, &fakeFetcher{err: errors.New("dns failure")}, &fakeExtractor{fn: priced(1)}, DefaultOptions()).RunScrape(ctx, comp.ID)
	sess := loadSession(t, s, res)

	sess.Status = model.StatusCompleted
	if err := s.UpdateSession(ctx, sess, model.StatusFailed); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("UpdateSession() out of failed error = %v, want ErrInvalidTransition", err)
	}
}

func TestRunScrape_UnknownCompetitor(t *testing.T) {
	s := newTestStore(t)
	f := &fakeFetcher{html: shopPage}

	res := New(s, f, &fakeExtractor{fn: priced(1)}, DefaultOptions()).RunScrape(context.Background(), uuid.New())

	if res.Success || res.SessionID != "" || !strings.Contains(res.Error, "not found") {
		t.Errorf("RunScrape() = %+v, want not-found failure without session", res)
	}
	if f.calls != 0 {
		t.Errorf("fetcher called %d times", f.calls)
	}
}

func TestRunScrape_InactiveCompetitorStillScraped(t *testing.T) {
	s := newTestStore(t)
	comp := seedCompetitor(t, s, false)

	res := New(s, &fakeFetcher{html: shopPage}, &fakeExtractor{fn: priced(100)}, DefaultOptions()).RunScrape(context.Background(), comp.ID)
	if !res.Success {
		t.Errorf("RunScrape() = %+v, want success", res)
	}
}

func TestRunScrape_EmptyPage(t *testing.T) {
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	ex := &fakeExtractor{fn: priced(100)}

	res := New(s, &fakeFetcher{html: "<script>app()</script>"}, ex, DefaultOptions()).RunScrape(context.Background(), comp.ID)

	if !res.Success || res.ProductsFound != 0 {
		t.Errorf("RunScrape() = %+v, want success with no products", res)
	}
	if len(ex.batches) != 0 {
		t.Errorf("extractor called with %q", ex.batches)
	}
}

func TestRunScrape_BatchOrderWithWorkers(t *testing.T) {
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)

	var sentences []string
	for i := range 12 {
		sentences = append(sentences, fmt.Sprintf("S%02d roses for sale.", i))
	}
	html := "<p>" + strings.Join(sentences, " ") + "</p>"

	ex := &fakeExtractor{fn: func(batch string) (*extractor.Result, error) {
		first := strings.Fields(batch)[0]
		return &extractor.Result{
			Products:   []extractor.Product{{ProductIdentifier: first, Name: first, Price: 10, Currency: "DT", IsAvailable: true}},
			Promotions: []string{"Spring sale", first},
		}, nil
	}}
	opts := DefaultOptions()
	opts.BatchSize = 45
	opts.Workers = 3

	res := New(s, &fakeFetcher{html: html}, ex, opts).RunScrape(context.Background(), comp.ID)

	text, _ := cleaner.NewText().Clean(html)
	batches := batcher.Split(text, opts.BatchSize)
	if len(batches) < 3 {
		t.Fatalf("fixture produced %d batches, want several", len(batches))
	}

	want := []string{"Spring sale"}
	for _, b := range batches {
		want = append(want, strings.Fields(b)[0])
	}
	if diff := cmp.Diff(want, res.Promotions); diff != "" {
		t.Errorf("promotions mismatch (-want +got):\n%s", diff)
	}
	if res.ProductsFound != len(batches) {
		t.Errorf("ProductsFound = %d, want %d", res.ProductsFound, len(batches))
	}
}

func TestRunScrape_PromotionAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	opts := DefaultOptions()
	opts.PromotionAlerts = true

	New(s, &fakeFetcher{html: shopPage}, &fakeExtractor{fn: priced(100, "10% off", "10% off", "Free delivery")}, opts).RunScrape(ctx, comp.ID)

	alerts, err := s.ListAlerts(ctx, storage.AlertFilter{CompetitorID: uuid.NullUUID{UUID: comp.ID, Valid: true}})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	var promos []string
	for _, a := range alerts {
		if a.Type == model.AlertPromotionDetected {
			if a.Severity != model.SeverityLow {
				t.Errorf("promotion alert severity = %s", a.Severity)
			}
			promos = append(promos, a.Message)
		}
	}
	if len(promos) != 2 {
		t.Errorf("promotion alerts = %q, want 2", promos)
	}
}

func TestRunScrape_SnapshotLimit(t *testing.T) {
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	opts := DefaultOptions()
	opts.SnapshotLimit = 10

	res := New(s, &fakeFetcher{html: "<p>Rosé à 10 DT, tulipes à 20 DT</p>"}, &fakeExtractor{fn: priced(10)}, opts).RunScrape(context.Background(), comp.ID)

	sess := loadSession(t, s, res)
	if n := utf8.RuneCountInString(sess.RawContent); n != 10 {
		t.Errorf("raw content runes = %d, want 10", n)
	}
}

func TestRunPriceAnalysis_AfterTwoScrapes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	f := &fakeFetcher{html: shopPage}

	for _, price := range []float64{100, 80} {
		res := New(s, f, &fakeExtractor{fn: priced(price)}, DefaultOptions()).RunScrape(ctx, comp.ID)
		if !res.Success {
			t.Fatalf("RunScrape() = %+v", res)
		}
	}

	c := New(s, f, &fakeExtractor{fn: priced(1)}, DefaultOptions())
	got := c.RunPriceAnalysis(ctx, comp.ID)
	if diff := cmp.Diff(AnalysisResult{Success: true, AlertsCreated: 1}, got); diff != "" {
		t.Errorf("RunPriceAnalysis() mismatch (-want +got):\n%s", diff)
	}

	alerts, _ := s.ListAlerts(ctx, storage.AlertFilter{CompetitorID: uuid.NullUUID{UUID: comp.ID, Valid: true}})
	var drops int
	for _, a := range alerts {
		if a.Type == model.AlertPriceDecrease {
			drops++
			if a.Severity != model.SeverityHigh {
				t.Errorf("severity = %s, want high", a.Severity)
			}
		}
	}
	if drops != 1 {
		t.Errorf("price_decrease alerts = %d, want 1", drops)
	}

	// Running again re-compares the same two rows.
	if again := c.RunPriceAnalysis(ctx, comp.ID); again.AlertsCreated != 1 {
		t.Errorf("second RunPriceAnalysis() = %+v", again)
	}
}

func TestRunProductAnalysis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	comp := seedCompetitor(t, s, true)
	f := &fakeFetcher{html: shopPage}

	// SKU1 drops from 100 to 80; SKU2 stays at 20.
	for _, price := range []float64{100, 80} {
		if res := New(s, f, &fakeExtractor{fn: priced(price)}, DefaultOptions()).RunScrape(ctx, comp.ID); !res.Success {
			t.Fatalf("RunScrape() = %+v", res)
		}
	}
	products, err := s.ListProducts(ctx, comp.ID)
	if err != nil {
		t.Fatalf("ListProducts() error = %v", err)
	}
	ids := map[string]uuid.UUID{}
	for _, p := range products {
		ids[p.Identifier] = p.ID
	}

	tests := []struct {
		name      string
		productID uuid.UUID
		want      AnalysisResult
	}{
		{"price drop", ids["SKU1"], AnalysisResult{Success: true, AlertsCreated: 1}},
		{"unchanged", ids["SKU2"], AnalysisResult{Success: true}},
	}
	c := New(s, nil, nil, DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, c.RunProductAnalysis(ctx, tt.productID)); diff != "" {
				t.Errorf("RunProductAnalysis() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("unknown product", func(t *testing.T) {
		got := c.RunProductAnalysis(ctx, uuid.New())
		if got.Success || got.Error == "" {
			t.Errorf("RunProductAnalysis() = %+v, want failure", got)
		}
	})
}

func TestRunPriceAnalysis_UnknownCompetitor(t *testing.T) {
	s := newTestStore(t)
	got := New(s, &fakeFetcher{}, &fakeExtractor{fn: priced(1)}, DefaultOptions()).RunPriceAnalysis(context.Background(), uuid.New())
	if got.Success || got.Error == "" {
		t.Errorf("RunPriceAnalysis() = %+v, want failure", got)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]string{"a", "b", "a", "c", "b"})
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("dedupe() mismatch (-want +got):\n%s", diff)
	}
}
