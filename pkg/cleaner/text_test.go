package cleaner

import (
	"regexp"
	"strings"
	"testing"
)

func TestTextCleaner_Name(t *testing.T) {
	if got := NewText().Name(); got != "text" {
		t.Errorf("Name() = %q, want %q", got, "text")
	}
}

func TestTextCleaner_Clean(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		want     string
		excludes []string
	}{
		{
			name: "removes non-content elements",
			html: `<html><head><style>.a{}</style></head><body>
				<header>Site header</header>
				<nav><a href="/">Home</a></nav>
				<p>Rose bouquet 115 DT</p>
				<script>var tracking = 1;</script>
				<noscript>Enable JS</noscript>
				<aside>Related</aside>
				<iframe src="x">frame</iframe>
				<footer>Copyright</footer>
			</body></html>`,
			want:     "Rose bouquet 115 DT",
			excludes: []string{"Site header", "Home", "tracking", "Enable JS", "Related", "Copyright"},
		},
		{
			name: "keeps reading order and separates elements",
			html: `<ul><li>Tulips</li><li>Lilies</li></ul><div><span>80</span><span>DT</span></div>`,
			want: "Tulips Lilies 80 DT",
		},
		{
			name:     "drops comments",
			html:     `<p>Visible<!-- hidden note --> text</p>`,
			want:     "Visible text",
			excludes: []string{"hidden note"},
		},
		{
			name: "collapses whitespace and nbsp",
			html: "<p>  Price:\n\n\t 12&nbsp;&nbsp;EUR  </p>",
			want: "Price: 12 EUR",
		},
		{
			name: "malformed markup is best effort",
			html: `<div><p>Unclosed <b>bold <i>text</div>`,
			want: "Unclosed bold text",
		},
		{
			name: "empty input",
			html: "",
			want: "",
		},
	}

	c := NewText()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Clean(tt.html)
			if err != nil {
				t.Fatalf("Clean() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Clean() = %q, want %q", got, tt.want)
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Clean() output contains %q", s)
				}
			}
		})
	}
}

func TestTextCleaner_NoWhitespaceRuns(t *testing.T) {
	html := "<div>\n  <h1> Title </h1>\n\n<p>a\t\tb</p>  <p> c </p>\r\n</div>"
	got, _ := NewText().Clean(html)

	if regexp.MustCompile(`\s\s`).MatchString(got) {
		t.Errorf("Clean() = %q contains a whitespace run", got)
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("Clean() = %q is not trimmed", got)
	}
}

func TestTextCleaner_CustomTags(t *testing.T) {
	c := NewText("table")
	got, _ := c.Clean(`<p>keep</p><table><tr><td>drop</td></tr></table><nav>nav stays</nav>`)
	if got != "keep nav stays" {
		t.Errorf("Clean() = %q, want %q", got, "keep nav stays")
	}
}

func TestFallbackText(t *testing.T) {
	got := fallbackText(`<p>One</p><script>x()</script><!-- c --><b>Two &amp; three</b>`)
	if want := "One Two & three"; got != want {
		t.Errorf("fallbackText() = %q, want %q", got, want)
	}
}
