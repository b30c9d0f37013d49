// Package model defines the domain types shared by the scrape pipeline.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Competitor is a monitored external site belonging to an owner account.
type Competitor struct {
	ID            uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	BaseURL       string
	IsActive      bool
	LastScrapedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Product is a catalog entry discovered on a competitor site.
// (CompetitorID, Identifier) is unique.
type Product struct {
	ID              uuid.UUID
	CompetitorID    uuid.UUID
	Identifier      string
	Name            string
	Description     string
	Category        string
	ProductURL      string
	ImageURL        string
	CurrentPrice    float64
	Currency        string
	IsAvailable     bool
	FirstDetectedAt time.Time
	LastUpdatedAt   time.Time
}

// PriceHistory is one append-only observation of a product price.
type PriceHistory struct {
	ID              int64
	ProductID       uuid.UUID
	Price           float64
	RecordedAt      time.Time
	ScrapeSessionID uuid.NullUUID
}

// AlertType classifies an alert.
type AlertType string

// Supported alert types.
const (
	AlertNewProduct         AlertType = "new_product"
	AlertPriceIncrease      AlertType = "price_increase"
	AlertPriceDecrease      AlertType = "price_decrease"
	AlertProductUnavailable AlertType = "product_unavailable"
	AlertPromotionDetected  AlertType = "promotion_detected"
)

// Severity ranks an alert.
type Severity string

// Supported severities.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert records a noteworthy event for the competitor's owner.
// Alerts are created once and never mutated by the pipeline.
type Alert struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	CompetitorID uuid.UUID
	ProductID    uuid.NullUUID
	Type         AlertType
	Severity     Severity
	Title        string
	Message      string
	OldValue     map[string]any
	NewValue     map[string]any
	IsRead       bool
	CreatedAt    time.Time
}
