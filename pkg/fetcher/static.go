package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/pricewatch/internal/logger"
)

// StaticConfig holds configuration for the static fetcher.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// DefaultStaticConfig returns sensible defaults.
func DefaultStaticConfig() StaticConfig {
	return StaticConfig{
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// StaticFetcher uses Colly for pages that render without JavaScript.
type StaticFetcher struct {
	config StaticConfig
}

// NewStatic creates a new static fetcher.
func NewStatic(cfg StaticConfig) *StaticFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultStaticConfig().UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultStaticConfig().Timeout
	}
	return &StaticFetcher{config: cfg}
}

// Fetch retrieves a page with a single HTTP request.
func (f *StaticFetcher) Fetch(ctx context.Context, targetURL string, opts Options) (Content, error) {
	result := Content{URL: targetURL, FetchedAt: time.Now()}

	userAgent := coalesce(opts.UserAgent, f.config.UserAgent)
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	c.SetRequestTimeout(timeout)

	if len(opts.Headers) > 0 {
		c.OnRequest(func(r *colly.Request) {
			for k, v := range opts.Headers {
				r.Headers.Set(k, v)
			}
		})
	}

	var document string
	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		document = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		logger.Debug("static fetch error", "status", result.StatusCode, "error", err)
	})

	logger.Debug("static fetch starting", "url", targetURL, "timeout", timeout)
	if err := c.Visit(targetURL); err != nil {
		if IsTimeout(err) {
			return result, fmt.Errorf("%w: %s after %s", ErrNavigationTimeout, targetURL, timeout)
		}
		if result.StatusCode >= 400 {
			return result, fmt.Errorf("%w: %d", ErrHTTPStatus, result.StatusCode)
		}
		return result, fmt.Errorf("visit %s: %w", targetURL, err)
	}

	body, title, err := BodyHTML(document)
	if err != nil {
		return result, err
	}
	result.HTML, result.Title = body, title

	if challenge := DetectChallenge(title, document); challenge != "" {
		return result, fmt.Errorf("%w: %s", ErrAntiBot, challenge)
	}

	logger.Debug("static fetch complete",
		"url", targetURL,
		"status", result.StatusCode,
		"body_size", len(result.HTML))
	return result, nil
}

// Close releases resources.
func (f *StaticFetcher) Close() error {
	return nil
}

// Type returns the fetcher type.
func (f *StaticFetcher) Type() string {
	return "static"
}
