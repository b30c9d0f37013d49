// Package reconcile persists extracted records as products, price history
// and new-product alerts.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/internal/model"
	"github.com/jmylchreest/pricewatch/internal/storage"
	"github.com/jmylchreest/pricewatch/pkg/extractor"
)

// Reconciler writes one batch of records per transaction.
type Reconciler struct {
	store storage.Store
	now   func() time.Time
}

// New creates a Reconciler backed by store.
func New(store storage.Store) *Reconciler {
	return &Reconciler{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Reconcile saves records found on comp during session sessionID. Each
// record runs in its own savepoint so one failure does not discard the
// rest of the batch. It returns the number of records saved.
func (r *Reconciler) Reconcile(ctx context.Context, comp *model.Competitor, sessionID uuid.UUID, records []extractor.Product) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var saved int
	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		saved = 0
		for i, rec := range records {
			err := tx.Savepoint(ctx, fmt.Sprintf("record_%d", i), func() error {
				return r.save(ctx, tx, comp, sessionID, rec)
			})
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("skipping record",
					"competitor_id", comp.ID,
					"product_identifier", rec.ProductIdentifier,
					"error", err)
				continue
			}
			saved++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile batch: %w", err)
	}
	return saved, nil
}

func (r *Reconciler) save(ctx context.Context, tx storage.Tx, comp *model.Competitor, sessionID uuid.UUID, rec extractor.Product) error {
	now := r.now()

	productURL := rec.ProductURL
	if productURL == "" {
		productURL = comp.BaseURL
	}

	p := &model.Product{
		CompetitorID:    comp.ID,
		Identifier:      rec.ProductIdentifier,
		Name:            rec.Name,
		Description:     rec.Description,
		Category:        rec.Category,
		ProductURL:      productURL,
		ImageURL:        rec.ImageURL,
		CurrentPrice:    rec.Price,
		Currency:        rec.Currency,
		IsAvailable:     rec.IsAvailable,
		FirstDetectedAt: now,
		LastUpdatedAt:   now,
	}
	created, err := tx.GetOrCreateProduct(ctx, p)
	if err != nil {
		return err
	}

	if created {
		alert := &model.Alert{
			OwnerID:      comp.OwnerID,
			CompetitorID: comp.ID,
			ProductID:    uuid.NullUUID{UUID: p.ID, Valid: true},
			Type:         model.AlertNewProduct,
			Severity:     model.SeverityMedium,
			Title:        "New product: " + p.Name,
			Message:      fmt.Sprintf("A new product was detected at %s", comp.Name),
			NewValue:     map[string]any{"name": p.Name, "price": p.CurrentPrice},
			CreatedAt:    now,
		}
		if err := tx.CreateAlert(ctx, alert); err != nil {
			return err
		}
		logger.Debug("new product", "competitor_id", comp.ID, "product_identifier", p.Identifier)
	}

	return tx.AppendPrice(ctx, &model.PriceHistory{
		ProductID:       p.ID,
		Price:           rec.Price,
		RecordedAt:      now,
		ScrapeSessionID: uuid.NullUUID{UUID: sessionID, Valid: true},
	})
}
