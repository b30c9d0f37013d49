// Package fetcher defines how competitor pages are retrieved. The static
// fetcher lives here; the browser-backed fetcher is built by the CLI.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher abstracts page fetching strategies.
type Fetcher interface {
	// Fetch retrieves the rendered body markup of a URL.
	Fetch(ctx context.Context, url string, opts Options) (Content, error)

	// Close releases any resources (browser instances, etc.).
	Close() error

	// Type returns a string identifying the fetcher type (e.g., "static", "dynamic").
	Type() string
}

// Options controls fetching behavior.
type Options struct {
	UserAgent       string
	Timeout         time.Duration // Navigation timeout
	WaitForSelector string        // CSS selector to wait for (dynamic fetchers)
	WaitDuration    time.Duration // Additional wait after load
	Headers         map[string]string
}

// Content represents a fetched page.
type Content struct {
	URL         string
	HTML        string // Inner markup of <body>
	Title       string
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
}

var (
	// ErrNavigationTimeout indicates the page did not load within the
	// navigation timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrAntiBot indicates the site answered with a challenge page.
	ErrAntiBot = errors.New("anti-bot protection detected")
	// ErrHTTPStatus indicates a non-success response status.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BodyHTML returns the inner markup of the document's body and its title.
func BodyHTML(document string) (body, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", "", fmt.Errorf("parse document: %w", err)
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())
	body, err = doc.Find("body").First().Html()
	if err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return body, title, nil
}

// IsTimeout reports whether err comes from an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNavigationTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// DetectChallenge reports the kind of challenge page served instead of the
// requested content, or "" for a regular page.
func DetectChallenge(title, html string) string {
	titleLower := strings.ToLower(title)
	htmlLower := strings.ToLower(html)

	switch {
	case strings.Contains(titleLower, "just a moment"),
		strings.Contains(titleLower, "attention required"),
		strings.Contains(htmlLower, "cf-challenge"),
		strings.Contains(htmlLower, "cf_chl_opt"):
		return "cloudflare"
	case strings.Contains(htmlLower, "challenges.cloudflare.com/turnstile"),
		strings.Contains(htmlLower, "cf-turnstile"):
		return "cloudflare-turnstile"
	case strings.Contains(htmlLower, "hcaptcha.com"), strings.Contains(htmlLower, "h-captcha"):
		return "hcaptcha"
	case strings.Contains(htmlLower, "google.com/recaptcha"), strings.Contains(htmlLower, "g-recaptcha"):
		return "recaptcha"
	case strings.Contains(titleLower, "access denied"),
		strings.Contains(titleLower, "bot detection"),
		strings.Contains(htmlLower, "robot or human"):
		return "anti-bot"
	}
	return ""
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
