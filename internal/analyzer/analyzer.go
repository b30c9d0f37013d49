// Package analyzer compares the latest price observations of products and
// raises price change alerts.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/storage"
)

// Options holds the alerting thresholds, in percent.
type Options struct {
	// ThresholdPct is the smallest absolute change that raises an alert.
	ThresholdPct float64

	// HighSeverityPct is the absolute change at which alerts become high severity.
	HighSeverityPct float64
}

// DefaultOptions returns the default thresholds: 5% and 15%.
func DefaultOptions() Options {
	return Options{ThresholdPct: 5, HighSeverityPct: 15}
}

// Analyzer reads price history and writes change alerts.
type Analyzer struct {
	store storage.Store
	opts  Options
	now   func() time.Time
}

// New creates an Analyzer. Non-positive thresholds take their defaults.
func New(store storage.Store, opts Options) *Analyzer {
	d := DefaultOptions()
	if opts.ThresholdPct <= 0 {
		opts.ThresholdPct = d.ThresholdPct
	}
	if opts.HighSeverityPct <= 0 {
		opts.HighSeverityPct = d.HighSeverityPct
	}
	return &Analyzer{store: store, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// AnalyzeCompetitor analyzes every product of a competitor and returns the
// number of alerts created.
func (a *Analyzer) AnalyzeCompetitor(ctx context.Context, competitorID uuid.UUID) (int, error) {
	comp, err := a.store.GetCompetitor(ctx, competitorID)
	if err != nil {
		return 0, err
	}
	products, err := a.store.ListProducts(ctx, comp.ID)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range products {
		ok, err := a.AnalyzeProduct(ctx, comp, &products[i])
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}

	logger.Info("price analysis finished",
		"competitor_id", comp.ID,
		"products", len(products),
		"alerts_created", created)
	return created, nil
}

// AnalyzeProductByID loads a product and its competitor and analyzes the
// product alone.
func (a *Analyzer) AnalyzeProductByID(ctx context.Context, productID uuid.UUID) (bool, error) {
	p, err := a.store.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	comp, err := a.store.GetCompetitor(ctx, p.CompetitorID)
	if err != nil {
		return false, err
	}
	return a.AnalyzeProduct(ctx, comp, p)
}

// AnalyzeProduct compares the two most recent prices of p. It reports
// whether an alert was created. Products with fewer than two observations
// are skipped.
func (a *Analyzer) AnalyzeProduct(ctx context.Context, comp *model.Competitor, p *model.Product) (bool, error) {
	recent, err := a.store.RecentPrices(ctx, p.ID, 2)
	if err != nil {
		return false, err
	}
	if len(recent) < 2 {
		return false, nil
	}
	current, previous := recent[0].Price, recent[1].Price

	pct := Change(previous, current)
	typ, severity, ok := a.Classify(pct)
	if !ok {
		return false, nil
	}

	now := a.now()
	alert := &model.Alert{
		OwnerID:      comp.OwnerID,
		CompetitorID: comp.ID,
		ProductID:    uuid.NullUUID{UUID: p.ID, Valid: true},
		Type:         typ,
		Severity:     severity,
		Title:        p.Name + " - price change",
		Message: fmt.Sprintf("Price changed by %.1f%% (%.2f %s → %.2f %s)",
			pct, previous, p.Currency, current, p.Currency),
		OldValue:  map[string]any{"price": previous},
		NewValue:  map[string]any{"price": current},
		CreatedAt: now,
	}

	err = a.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateAlert(ctx, alert); err != nil {
			return err
		}
		return tx.UpdateCurrentPrice(ctx, p.ID, current, now)
	})
	if err != nil {
		return false, fmt.Errorf("record price change for %s: %w", p.Identifier, err)
	}
	p.CurrentPrice = current

	logger.Debug("price change alert",
		"product_identifier", p.Identifier,
		"change_pct", pct,
		"severity", severity)
	return true, nil
}

// Classify maps a percentage change to an alert type and severity. It
// reports false when the change is below the alert threshold.
func (a *Analyzer) Classify(pct float64) (model.AlertType, model.Severity, bool) {
	abs := math.Abs(pct)
	if abs < a.opts.ThresholdPct {
		return "", "", false
	}

	typ := model.AlertPriceIncrease
	if pct < 0 {
		typ = model.AlertPriceDecrease
	}
	severity := model.SeverityMedium
	if abs >= a.opts.HighSeverityPct {
		severity = model.SeverityHigh
	}
	return typ, severity, true
}

// Change returns the percentage change from previous to current, rounded
// to six decimals so that threshold comparisons are stable.
func Change(previous, current float64) float64 {
	if previous == 0 {
		return 0
	}
	pct := (current - previous) / previous * 100
	return math.Round(pct*1e6) / 1e6
}
