// Package fetcher provides the chromedp-based dynamic fetcher used by the
// CLI for JavaScript-rendered competitor pages.
package fetcher

import (
	"time"

	"github.com/jmylchreest/pricewatch/pkg/fetcher"
)

// Config holds configuration for the dynamic fetcher.
type Config struct {
	UserAgent  string
	Timeout    time.Duration // Navigation timeout
	ChromePath string        // Explicit browser binary; searched for when empty
	Headless   bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent: fetcher.DefaultUserAgent,
		Timeout:   30 * time.Second,
		Headless:  true,
	}
}
