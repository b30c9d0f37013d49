package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/pkg/fetcher"
)

// DynamicFetcher renders pages in a headless browser and returns the body
// markup once the page has loaded.
type DynamicFetcher struct {
	config    Config
	allocCtx  context.Context
	cancelCtx context.CancelFunc
}

var _ fetcher.Fetcher = (*DynamicFetcher)(nil)

// NewDynamicFetcher creates a dynamic fetcher. The browser is started
// lazily on the first fetch.
func NewDynamicFetcher(cfg Config) *DynamicFetcher {
	d := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)
	chromePath := cfg.ChromePath
	if chromePath == "" {
		chromePath = FindChromePath()
	}
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	logger.Debug("dynamic fetcher created", "timeout", cfg.Timeout, "headless", cfg.Headless)
	return &DynamicFetcher{config: cfg, allocCtx: allocCtx, cancelCtx: cancel}
}

// Fetch navigates to targetURL and returns the rendered body markup. A
// page that does not load within the navigation timeout yields
// fetcher.ErrNavigationTimeout.
func (f *DynamicFetcher) Fetch(ctx context.Context, targetURL string, opts fetcher.Options) (fetcher.Content, error) {
	result := fetcher.Content{URL: targetURL, FetchedAt: time.Now()}

	browserCtx, cancelBrowser := chromedp.NewContext(f.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)
	defer cancelBrowser()

	// Tie the browser tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancelBrowser)
	defer stop()

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.config.Timeout
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	var body, title string
	actions := f.actions(targetURL, opts, &body, &title)

	logger.Debug("dynamic fetch starting", "url", targetURL, "timeout", timeout)
	if err := chromedp.Run(timeoutCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) || fetcher.IsTimeout(err) {
			return result, fmt.Errorf("%w: %s after %s", fetcher.ErrNavigationTimeout, targetURL, timeout)
		}
		return result, fmt.Errorf("browser navigation failed: %w", err)
	}

	result.HTML = body
	result.Title = title
	result.StatusCode = 200

	if challenge := fetcher.DetectChallenge(title, body); challenge != "" {
		logger.Warn("challenge page detected", "url", targetURL, "type", challenge)
		return result, fmt.Errorf("%w: %s", fetcher.ErrAntiBot, challenge)
	}

	logger.Debug("dynamic fetch complete", "url", targetURL, "title", title, "body_size", len(body))
	return result, nil
}

// actions builds the browser steps for one fetch. A per-fetch user agent
// that differs from the one the browser was launched with is applied to the
// tab before navigating.
func (f *DynamicFetcher) actions(targetURL string, opts fetcher.Options, body, title *string) []chromedp.Action {
	var actions []chromedp.Action
	if opts.UserAgent != "" && opts.UserAgent != f.config.UserAgent {
		actions = append(actions, emulation.SetUserAgentOverride(opts.UserAgent))
	}
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}
		actions = append(actions, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}

	waitFor := "body"
	if opts.WaitForSelector != "" {
		waitFor = opts.WaitForSelector
	}
	actions = append(actions,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady(waitFor, chromedp.ByQuery),
	)
	if opts.WaitDuration > 0 {
		actions = append(actions, chromedp.Sleep(opts.WaitDuration))
	}
	return append(actions,
		chromedp.InnerHTML("body", body, chromedp.ByQuery),
		chromedp.Title(title),
	)
}

// Close shuts down the browser.
func (f *DynamicFetcher) Close() error {
	if f.cancelCtx != nil {
		f.cancelCtx()
	}
	return nil
}

// Type returns the fetcher type.
func (f *DynamicFetcher) Type() string {
	return "dynamic"
}
