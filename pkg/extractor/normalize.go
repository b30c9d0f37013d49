package extractor

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	maxIdentifierLen = 255
	maxNameLen       = 500
)

var (
	errNoIdentifier = errors.New("missing product_identifier")
	errNoName       = errors.New("missing name")
	errInvalidPrice = errors.New("price must be positive")
	errPriceTooHigh = errors.New("price above ceiling")
)

var (
	numberRegex      = regexp.MustCompile(`-?\d[\d\s.,\x{00a0}\x{202f}']*`)
	currencySymbols  = map[string]string{"€": "EUR", "$": "USD", "£": "GBP", "US$": "USD", "EURO": "EUR", "EUROS": "EUR"}
	symbolCheckOrder = []string{"US$", "€", "£", "$"}
	nullMarkers      = map[string]bool{"null": true, "none": true, "n/a": true, "nil": true, "undefined": true}
)

// normalizer applies field rules to products of one batch.
type normalizer struct {
	base     *url.URL
	maxPrice float64
	known    map[string]bool
	fallback string
	validate *validator.Validate
}

func newNormalizer(cfg Config, baseURL string, v *validator.Validate) *normalizer {
	n := &normalizer{
		maxPrice: cfg.MaxPrice,
		known:    make(map[string]bool, len(cfg.Currencies)),
		fallback: strings.ToUpper(cfg.FallbackCurrency),
		validate: v,
	}
	for _, c := range cfg.Currencies {
		n.known[strings.ToUpper(c)] = true
	}
	if u, err := url.Parse(strings.TrimSpace(baseURL)); err == nil && u.IsAbs() {
		n.base = u
	}
	return n
}

// product normalizes p and validates the result. A non-nil error means the
// product must be dropped.
func (n *normalizer) product(p Product) (Product, error) {
	p.ProductIdentifier = truncateRunes(cleanText(p.ProductIdentifier), maxIdentifierLen)
	p.Name = truncateRunes(cleanText(p.Name), maxNameLen)
	p.Category = cleanText(p.Category)
	p.Description = cleanText(p.Description)
	p.Currency = n.currency(p.Currency)
	p.ProductURL = n.resolve(p.ProductURL)
	p.ImageURL = n.resolve(p.ImageURL)

	switch {
	case p.ProductIdentifier == "":
		return p, errNoIdentifier
	case p.Name == "":
		return p, errNoName
	case math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0:
		return p, errInvalidPrice
	case p.Price > n.maxPrice:
		return p, errPriceTooHigh
	}
	p.Price = math.Round(p.Price*100) / 100
	if p.Price <= 0 {
		return p, errInvalidPrice
	}

	if err := n.validate.Struct(p); err != nil {
		return p, fmt.Errorf("validate product: %w", err)
	}
	return p, nil
}

// currency upper-cases code, maps symbols, and falls back when unknown.
func (n *normalizer) currency(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if mapped, ok := currencySymbols[c]; ok {
		c = mapped
	}
	if n.known[c] {
		return c
	}
	return n.fallback
}

// inferCurrency finds a currency symbol or known code inside free text
// such as "115 DT". It returns "" when none is present.
func (n *normalizer) inferCurrency(text string) string {
	upper := strings.ToUpper(text)
	for _, sym := range symbolCheckOrder {
		if strings.Contains(upper, sym) {
			return currencySymbols[sym]
		}
	}
	words := strings.FieldsFunc(upper, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z')
	})
	for _, w := range words {
		if n.known[w] {
			return w
		}
		if mapped, ok := currencySymbols[w]; ok {
			return mapped
		}
	}
	return ""
}

// resolve makes raw absolute against the base URL. Unparseable or
// non-http values are dropped.
func (n *normalizer) resolve(raw string) string {
	raw = cleanText(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		if n.base == nil {
			return ""
		}
		ref = n.base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

// parsePrice reads a price written as text: "115 DT", "1 299,90", "1,299.90",
// "12.500". A single separator is decimal; a repeated one groups thousands.
func parsePrice(s string) (float64, bool) {
	m := numberRegex.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, m)
	m = strings.TrimRight(m, ".,")

	lastComma := strings.LastIndexByte(m, ',')
	lastDot := strings.LastIndexByte(m, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			m = strings.ReplaceAll(m, ".", "")
			m = strings.Replace(m, ",", ".", 1)
		} else {
			m = strings.ReplaceAll(m, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(m, ",") > 1 {
			m = strings.ReplaceAll(m, ",", "")
		} else {
			m = strings.Replace(m, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(m, ".") > 1 {
			m = strings.ReplaceAll(m, ".", "")
		}
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// cleanText trims s and maps null markers to "".
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if nullMarkers[strings.ToLower(s)] {
		return ""
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
