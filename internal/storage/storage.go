// Package storage defines the persistence interface and its database/sql
// implementation for sqlite and postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/pricewatch/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus is returned when a session update loses a
	// compare-and-set race: the stored status no longer matches.
	ErrStaleStatus = errors.New("session status changed concurrently")
)

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	OwnerID      uuid.NullUUID
	CompetitorID uuid.NullUUID
	UnreadOnly   bool
	Limit        int
}

// Store is the interface for all persistence operations.
type Store interface {
	CreateCompetitor(ctx context.Context, c *model.Competitor) error
	GetCompetitor(ctx context.Context, id uuid.UUID) (*model.Competitor, error)
	ListCompetitors(ctx context.Context) ([]model.Competitor, error)
	MarkCompetitorScraped(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateSession(ctx context.Context, s *model.ScrapeSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.ScrapeSession, error)
	ListSessions(ctx context.Context, competitorID uuid.UUID, limit int) ([]model.ScrapeSession, error)
	// UpdateSession persists s only if the stored status still equals from.
	UpdateSession(ctx context.Context, s *model.ScrapeSession, from model.SessionStatus) error

	GetProduct(ctx context.Context, id uuid.UUID) (*model.Product, error)
	ListProducts(ctx context.Context, competitorID uuid.UUID) ([]model.Product, error)
	// RecentPrices returns up to n history rows, newest first.
	RecentPrices(ctx context.Context, productID uuid.UUID, n int) ([]model.PriceHistory, error)

	ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id uuid.UUID) error

	// InTx runs fn in a single transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx is the set of writes performed atomically per batch.
type Tx interface {
	// GetOrCreateProduct inserts p unless (competitor, identifier) exists,
	// then loads the stored row into p. It reports whether p was created.
	GetOrCreateProduct(ctx context.Context, p *model.Product) (bool, error)
	AppendPrice(ctx context.Context, h *model.PriceHistory) error
	CreateAlert(ctx context.Context, a *model.Alert) error
	UpdateCurrentPrice(ctx context.Context, productID uuid.UUID, price float64, at time.Time) error

	// Savepoint runs fn inside a named savepoint. When fn fails the
	// savepoint is rolled back and the transaction remains usable.
	Savepoint(ctx context.Context, name string, fn func() error) error
}
