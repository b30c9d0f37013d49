package extractor

import (
	"encoding/json"

	"github.com/jmylchreest/pricewatch/pkg/llm"
)

// Product is one product record extracted from a batch.
type Product struct {
	ProductIdentifier string  `json:"product_identifier" validate:"required,max=255"`
	Name              string  `json:"name" validate:"required,max=500"`
	Price             float64 `json:"price" validate:"gt=0"`
	Currency          string  `json:"currency" validate:"required,max=3"`
	Category          string  `json:"category,omitempty"`
	Description       string  `json:"description,omitempty"`
	ProductURL        string  `json:"product_url,omitempty" validate:"omitempty,url"`
	ImageURL          string  `json:"image_url,omitempty" validate:"omitempty,url"`
	IsAvailable       bool    `json:"is_available"`
}

// UnmarshalJSON decodes a product, defaulting is_available to true.
func (p *Product) UnmarshalJSON(b []byte) error {
	type plain Product
	v := plain{IsAvailable: true}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Product(v)
	return nil
}

// Response is the object the model is instructed to return.
type Response struct {
	Products   []Product `json:"products"`
	Promotions []string  `json:"promotions"`
}

// Recovery names the step of the parse ladder that produced a response.
type Recovery string

// Parse ladder steps, in order.
const (
	RecoveryStrict   Recovery = "strict"
	RecoveryDefenced Recovery = "defenced"
	RecoverySalvaged Recovery = "salvaged"
	RecoveryNone     Recovery = "none"

	// RecoveryCached marks results served from the cache.
	RecoveryCached Recovery = "cached"
)

// Result holds the extraction output for one batch.
type Result struct {
	Products   []Product
	Promotions []string

	// Usage is accumulated over every attempt.
	Usage llm.Usage

	// Attempts is the number of model calls made; zero on a cache hit.
	Attempts int

	// Cached is true when the result came from the cache.
	Cached bool

	// Recovery is the ladder step that produced the final response.
	Recovery Recovery
}
