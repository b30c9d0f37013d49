// Package cleaner turns rendered page markup into plain text for extraction.
package cleaner

// Cleaner transforms HTML content into text suitable for extraction.
// Implementations must not fail on malformed markup; the error return is
// reserved for I/O-style failures of wrapping cleaners.
type Cleaner interface {
	// Clean transforms the input HTML into plain text.
	Clean(html string) (string, error)

	// Name returns the cleaner type for logging/debugging.
	Name() string
}
