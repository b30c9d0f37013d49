// Package session drives one scrape of a competitor through fetch, clean,
// batch, extract and reconcile, recording the run as a ScrapeSession.
package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/pricewatch/internal/analyzer"
	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/reconcile"
	"github.com/jmylchreest/pricewatch/internal/storage"
	"github.com/jmylchreest/pricewatch/pkg/batcher"
	"github.com/jmylchreest/pricewatch/pkg/cleaner"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
	"github.com/jmylchreest/pricewatch/pkg/fetcher"
)

// Pipeline stages, recorded in the error payload of failed sessions.
const (
	StageFetch     = "fetch"
	StageClean     = "clean"
	StageBatch     = "batch"
	StageExtract   = "extract"
	StageReconcile = "reconcile"
	StageComplete  = "complete"
)

// Extractor extracts products and promotions from one batch of text.
type Extractor interface {
	Extract(ctx context.Context, batch, baseURL string) (*extractor.Result, error)
}

// Options configures a Controller.
type Options struct {
	BatchSize         int           // Max characters per batch (default: 7500)
	NavigationTimeout time.Duration // Fetch timeout (default: 30s)
	SnapshotLimit     int           // Max characters of raw markup kept on the session (default: 50000)
	Workers           int           // Concurrent extraction calls (default: 1)
	UserAgent         string
	WaitForSelector   string            // CSS selector the browser waits for before reading the page
	WaitDuration      time.Duration     // Extra settle time after the page loads
	Headers           map[string]string // Extra request headers
	PromotionAlerts   bool              // Raise promotion_detected alerts
	Analysis          analyzer.Options
	Cleaner           cleaner.Cleaner // Default: cleaner.NewText()
}

// DefaultOptions returns the default controller options.
func DefaultOptions() Options {
	return Options{
		BatchSize:         batcher.DefaultMaxChars,
		NavigationTimeout: 30 * time.Second,
		SnapshotLimit:     50_000,
		Workers:           1,
		Analysis:          analyzer.DefaultOptions(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.SnapshotLimit <= 0 {
		o.SnapshotLimit = d.SnapshotLimit
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Cleaner == nil {
		o.Cleaner = cleaner.NewText()
	}
	return o
}

// ScrapeResult is returned by RunScrape.
type ScrapeResult struct {
	Success       bool     `json:"success" yaml:"success"`
	ProductsFound int      `json:"products_found" yaml:"products_found"`
	Promotions    []string `json:"promotions" yaml:"promotions"`
	SessionID     string   `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	TokensUsed    int      `json:"tokens_used" yaml:"tokens_used"`
	Error         string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// AnalysisResult is returned by RunPriceAnalysis.
type AnalysisResult struct {
	Success       bool   `json:"success" yaml:"success"`
	AlertsCreated int    `json:"alerts_created" yaml:"alerts_created"`
	Error         string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Controller runs scrapes and price analyses.
type Controller struct {
	store      storage.Store
	fetcher    fetcher.Fetcher
	extractor  Extractor
	reconciler *reconcile.Reconciler
	analyzer   *analyzer.Analyzer
	opts       Options
	now        func() time.Time
}

// New creates a Controller.
func New(store storage.Store, f fetcher.Fetcher, ex Extractor, opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		store:      store,
		fetcher:    f,
		extractor:  ex,
		reconciler: reconcile.New(store),
		analyzer:   analyzer.New(store, opts.Analysis),
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// run tracks the progress of one scrape.
type run struct {
	comp       *model.Competitor
	sess       *model.ScrapeSession
	stage      string
	saved      int
	tokens     int
	promotions []string
}

// RunScrape scrapes a competitor end to end. Failures never escape: they
// are recorded on the session and reported in the result.
func (c *Controller) RunScrape(ctx context.Context, competitorID uuid.UUID) (res ScrapeResult) {
	comp, err := c.store.GetCompetitor(ctx, competitorID)
	if err != nil {
		return ScrapeResult{Error: err.Error()}
	}
	if !comp.IsActive {
		logger.Warn("scraping inactive competitor", "competitor_id", comp.ID, "name", comp.Name)
	}

	sess := &model.ScrapeSession{CompetitorID: comp.ID, Status: model.StatusPending, StartedAt: c.now()}
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return ScrapeResult{Error: fmt.Sprintf("create session: %v", err)}
	}
	r := &run{comp: comp, sess: sess, stage: StageFetch}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("scrape panicked", "session_id", sess.ID, "panic", p, "stack", string(debug.Stack()))
			res = c.fail(ctx, r, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := c.advance(ctx, sess, model.StatusRunning); err != nil {
		return c.fail(ctx, r, err)
	}
	logger.Info("scrape started", "session_id", sess.ID, "competitor_id", comp.ID, "url", comp.BaseURL)

	if err := c.scrape(ctx, r); err != nil {
		return c.fail(ctx, r, err)
	}

	r.stage = StageComplete
	now := c.now()
	sess.CompletedAt = &now
	sess.ProductsFound = r.saved
	sess.TokensUsed = r.tokens
	if err := c.advance(ctx, sess, model.StatusCompleted); err != nil {
		return c.fail(ctx, r, err)
	}
	if err := c.store.MarkCompetitorScraped(ctx, comp.ID, now); err != nil {
		logger.Warn("failed to update last scraped time", "competitor_id", comp.ID, "error", err)
	}

	logger.Info("scrape completed",
		"session_id", sess.ID,
		"products_found", r.saved,
		"promotions", len(r.promotions),
		"tokens_used", r.tokens)

	return ScrapeResult{
		Success:       true,
		ProductsFound: r.saved,
		Promotions:    r.promotions,
		SessionID:     sess.ID.String(),
		TokensUsed:    r.tokens,
	}
}

func (c *Controller) scrape(ctx context.Context, r *run) error {
	r.stage = StageFetch
	content, err := c.fetcher.Fetch(ctx, r.comp.BaseURL, fetcher.Options{
		UserAgent:       c.opts.UserAgent,
		Timeout:         c.opts.NavigationTimeout,
		WaitForSelector: c.opts.WaitForSelector,
		WaitDuration:    c.opts.WaitDuration,
		Headers:         c.opts.Headers,
	})
	if err != nil {
		return fmt.Errorf("fetch %s: %w", r.comp.BaseURL, err)
	}
	r.sess.RawContent = snapshot(content.HTML, c.opts.SnapshotLimit)
	if err := c.store.UpdateSession(ctx, r.sess, model.StatusRunning); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	logger.Debug("page fetched", "session_id", r.sess.ID, "fetcher", c.fetcher.Type(), "html_size", len(content.HTML))

	r.stage = StageClean
	text, err := c.opts.Cleaner.Clean(content.HTML)
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	r.stage = StageBatch
	batches := batcher.Split(text, c.opts.BatchSize)
	logger.Debug("text batched", "session_id", r.sess.ID, "text_size", len(text), "batches", len(batches))

	r.stage = StageExtract
	results, err := c.extractAll(ctx, r.comp.BaseURL, batches)
	if err != nil {
		return err
	}

	r.stage = StageReconcile
	var promotions []string
	for i, res := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.tokens += res.Usage.Total()
		promotions = append(promotions, res.Promotions...)

		n, err := c.reconciler.Reconcile(ctx, r.comp, r.sess.ID, res.Products)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("batch not persisted", "session_id", r.sess.ID, "batch", i, "error", err)
			continue
		}
		r.saved += n
	}
	r.promotions = dedupe(promotions)

	if c.opts.PromotionAlerts && len(r.promotions) > 0 {
		if err := c.alertPromotions(ctx, r); err != nil {
			logger.Warn("promotion alerts not created", "session_id", r.sess.ID, "error", err)
		}
	}
	return nil
}

// extractAll extracts every batch on a bounded pool. Results keep batch
// order.
func (c *Controller) extractAll(ctx context.Context, baseURL string, batches batcher.Batches) ([]*extractor.Result, error) {
	results := make([]*extractor.Result, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, batch := range batches {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("batch %d: panic: %v", i, p)
				}
			}()
			res, err := c.extractor.Extract(gctx, batch, baseURL)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			results[i] = res
			logger.Debug("batch extracted",
				"batch", i,
				"products", len(res.Products),
				"attempts", res.Attempts,
				"recovery", res.Recovery)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Controller) alertPromotions(ctx context.Context, r *run) error {
	now := c.now()
	return c.store.InTx(ctx, func(tx storage.Tx) error {
		for _, promo := range r.promotions {
			err := tx.CreateAlert(ctx, &model.Alert{
				OwnerID:      r.comp.OwnerID,
				CompetitorID: r.comp.ID,
				Type:         model.AlertPromotionDetected,
				Severity:     model.SeverityLow,
				Title:        "Promotion detected at " + r.comp.Name,
				Message:      promo,
				NewValue:     map[string]any{"promotion": promo},
				CreatedAt:    now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// advance moves sess to status in memory and in the store.
func (c *Controller) advance(ctx context.Context, sess *model.ScrapeSession, to model.SessionStatus) error {
	from := sess.Status
	if err := sess.Transition(to); err != nil {
		return err
	}
	if err := c.store.UpdateSession(ctx, sess, from); err != nil {
		sess.Status = from
		return fmt.Errorf("mark session %s: %w", to, err)
	}
	return nil
}

// fail records err on the session and builds the failed result.
func (c *Controller) fail(ctx context.Context, r *run, err error) ScrapeResult {
	sess := r.sess
	logger.Error("scrape failed", "session_id", sess.ID, "stage", r.stage, "error", err)

	res := ScrapeResult{Error: err.Error(), SessionID: sess.ID.String()}
	if sess.Status.IsTerminal() {
		return res
	}

	now := c.now()
	sess.CompletedAt = &now
	sess.ProductsFound = r.saved
	sess.TokensUsed = r.tokens
	sess.Error = &model.SessionError{Message: err.Error(), Stage: r.stage}

	// The failure is recorded even when ctx was canceled.
	if advErr := c.advance(context.WithoutCancel(ctx), sess, model.StatusFailed); advErr != nil {
		logger.Error("failed to record session failure", "session_id", sess.ID, "error", advErr)
	}
	return res
}

// RunPriceAnalysis compares recent prices of every product of a
// competitor and raises change alerts.
func (c *Controller) RunPriceAnalysis(ctx context.Context, competitorID uuid.UUID) (res AnalysisResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("price analysis panicked", "competitor_id", competitorID, "panic", p)
			res = AnalysisResult{Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	n, err := c.analyzer.AnalyzeCompetitor(ctx, competitorID)
	if err != nil {
		return AnalysisResult{AlertsCreated: n, Error: err.Error()}
	}
	return AnalysisResult{Success: true, AlertsCreated: n}
}

// RunProductAnalysis compares the two most recent prices of one product
// and raises a change alert when warranted.
func (c *Controller) RunProductAnalysis(ctx context.Context, productID uuid.UUID) (res AnalysisResult) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("product analysis panicked", "product_id", productID, "panic", p)
			res = AnalysisResult{Error: fmt.Sprintf("panic: %v", p)}
		}
	}()

	created, err := c.analyzer.AnalyzeProductByID(ctx, productID)
	if err != nil {
		return AnalysisResult{Error: err.Error()}
	}
	res = AnalysisResult{Success: true}
	if created {
		res.AlertsCreated = 1
	}
	return res
}

// snapshot truncates s to limit characters.
func snapshot(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// dedupe drops repeated strings, keeping first occurrences in order.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
