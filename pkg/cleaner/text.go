package cleaner

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultStripTags are the elements removed before text is collected.
// They carry navigation chrome, code or fallbacks rather than page content.
var DefaultStripTags = []string{
	"script", "style", "nav", "footer", "header", "aside",
	"iframe", "noscript", "svg", "template",
}

var (
	// whitespaceRegex matches any run of whitespace, including non-breaking spaces.
	whitespaceRegex = regexp.MustCompile(`[\s\p{Zs}]+`)
	tagRegex        = regexp.MustCompile(`(?s)<[^>]*>`)
	commentRegex    = regexp.MustCompile(`(?s)<!--.*?-->`)
	strippedBlocks  = regexp.MustCompile(`(?is)<(script|style|noscript|template)\b.*?</(script|style|noscript|template)>`)
)

// TextCleaner strips non-content elements and returns the visible text in
// reading order with whitespace collapsed to single spaces.
type TextCleaner struct {
	stripTags []string
}

// NewText creates a TextCleaner. With no tags given, DefaultStripTags is used.
func NewText(stripTags ...string) *TextCleaner {
	if len(stripTags) == 0 {
		stripTags = DefaultStripTags
	}
	return &TextCleaner{stripTags: stripTags}
}

// Name returns the cleaner type.
func (c *TextCleaner) Name() string {
	return "text"
}

// Clean never returns an error. When the markup cannot be parsed it falls
// back to regex tag stripping.
func (c *TextCleaner) Clean(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return fallbackText(raw), nil
	}

	doc.Find(strings.Join(c.stripTags, ", ")).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	for _, n := range root.Nodes {
		collectText(n, &b)
	}
	return collapse(b.String()), nil
}

// collectText appends every text node under n, separating nodes with a
// space so adjacent elements do not run together. Comments are skipped.
func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.CommentNode:
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, b)
	}
}

func fallbackText(raw string) string {
	text := commentRegex.ReplaceAllString(raw, " ")
	text = strippedBlocks.ReplaceAllString(text, " ")
	text = tagRegex.ReplaceAllString(text, " ")
	return collapse(html.UnescapeString(text))
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}
