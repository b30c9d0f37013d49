package extractor

import "time"

// Config holds extraction settings shared by every batch.
type Config struct {
	// Temperature for model responses (default: 0.1).
	Temperature float64

	// MaxTokens bounds the model output (default: 1500).
	MaxTokens int

	// MaxAttempts is the total number of calls made while the result has
	// no products (default: 2).
	MaxAttempts int

	// RetryBackoff is the constant delay between attempts (default: 500ms).
	RetryBackoff time.Duration

	// MaxContentSize bounds the text sent in one model call. Longer batches
	// are extracted in whitespace-bounded parts (default: 7500).
	MaxContentSize int

	// MaxPrice is the ceiling above which a price is implausible (default: 1e6).
	MaxPrice float64

	// Currencies is the set of accepted currency codes.
	Currencies []string

	// FallbackCurrency replaces unrecognized currencies (default: DT).
	FallbackCurrency string

	// StrictMode requests strict JSON schema enforcement where supported.
	StrictMode bool

	// CacheTTL is how long non-empty results stay cached (default: 6h).
	CacheTTL time.Duration
}

// DefaultCurrencies is the default accepted currency set.
var DefaultCurrencies = []string{"DT", "TND", "EUR", "USD", "GBP", "MAD", "DZD", "CAD", "CHF"}

// DefaultConfig returns sensible defaults for product extraction.
func DefaultConfig() Config {
	return Config{
		Temperature:      0.1,
		MaxTokens:        1500,
		MaxAttempts:      2,
		RetryBackoff:     500 * time.Millisecond,
		MaxContentSize:   7500,
		MaxPrice:         1_000_000,
		Currencies:       DefaultCurrencies,
		FallbackCurrency: "DT",
		CacheTTL:         6 * time.Hour,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxContentSize <= 0 {
		c.MaxContentSize = d.MaxContentSize
	}
	if c.MaxPrice <= 0 {
		c.MaxPrice = d.MaxPrice
	}
	if len(c.Currencies) == 0 {
		c.Currencies = d.Currencies
	}
	if c.FallbackCurrency == "" {
		c.FallbackCurrency = d.FallbackCurrency
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}
