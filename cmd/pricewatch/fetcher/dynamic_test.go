package fetcher

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/google/go-cmp/cmp"

	"github.com/jmylchreest/pricewatch/pkg/fetcher"
)

func TestNewDynamicFetcher_Defaults(t *testing.T) {
	f := NewDynamicFetcher(Config{ChromePath: "/nonexistent/chrome"})
	defer func() { _ = f.Close() }()

	if f.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", f.config.Timeout)
	}
	if f.config.UserAgent != fetcher.DefaultUserAgent {
		t.Errorf("UserAgent = %q, want default", f.config.UserAgent)
	}
	if f.Type() != "dynamic" {
		t.Errorf("Type() = %q, want dynamic", f.Type())
	}
}

func TestNewDynamicFetcher_KeepsExplicitValues(t *testing.T) {
	f := NewDynamicFetcher(Config{ChromePath: "/nonexistent/chrome", UserAgent: "ua", Timeout: time.Second})
	defer func() { _ = f.Close() }()

	if f.config.Timeout != time.Second || f.config.UserAgent != "ua" {
		t.Errorf("config = %+v", f.config)
	}
}

func TestDynamicFetcher_Actions(t *testing.T) {
	tests := []struct {
		name        string
		opts        fetcher.Options
		wantUA      string
		wantHeaders network.Headers
		wantSteps   int
	}{
		{
			name:      "launch user agent",
			opts:      fetcher.Options{UserAgent: "ua"},
			wantSteps: 4,
		},
		{
			name:      "per fetch user agent",
			opts:      fetcher.Options{UserAgent: "pricewatch-session"},
			wantUA:    "pricewatch-session",
			wantSteps: 5,
		},
		{
			name: "headers and settle time",
			opts: fetcher.Options{
				WaitForSelector: ".product-grid",
				WaitDuration:    time.Second,
				Headers:         map[string]string{"Accept-Language": "fr-TN"},
			},
			wantHeaders: network.Headers{"Accept-Language": "fr-TN"},
			wantSteps:   7,
		},
	}

	f := NewDynamicFetcher(Config{ChromePath: "/nonexistent/chrome", UserAgent: "ua"})
	defer func() { _ = f.Close() }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body, title string
			actions := f.actions("https://fleurs.example.tn", tt.opts, &body, &title)

			var (
				gotUA      string
				gotHeaders network.Headers
			)
			for _, a := range actions {
				switch p := a.(type) {
				case *emulation.SetUserAgentOverrideParams:
					gotUA = p.UserAgent
				case *network.SetExtraHTTPHeadersParams:
					gotHeaders = p.Headers
				}
			}

			if len(actions) != tt.wantSteps {
				t.Errorf("actions = %d, want %d", len(actions), tt.wantSteps)
			}
			if gotUA != tt.wantUA {
				t.Errorf("user agent override = %q, want %q", gotUA, tt.wantUA)
			}
			if diff := cmp.Diff(tt.wantHeaders, gotHeaders); diff != "" {
				t.Errorf("headers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
