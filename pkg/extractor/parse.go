package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jmylchreest/pricewatch/internal/logger"
)

var errTrailingData = errors.New("unexpected data after JSON object")

// parse runs the recovery ladder over a raw model response: strict decode,
// strict decode after removing code fences, per-item salvage from a loose
// JSON tree, and finally an empty response.
func (n *normalizer) parse(raw string) (Response, Recovery) {
	resp, err := n.strict(raw)
	if err == nil {
		return resp, RecoveryStrict
	}
	logger.Debug("extractor strict parse failed", "error", err)

	if defenced := StripMarkdownCodeBlock(raw); defenced != strings.TrimSpace(raw) {
		if resp, err := n.strict(defenced); err == nil {
			return resp, RecoveryDefenced
		}
	}

	if resp, ok := n.salvage(raw); ok {
		return resp, RecoverySalvaged
	}
	return Response{}, RecoveryNone
}

// strict decodes raw into Response and requires every product to pass
// normalization and validation.
func (n *normalizer) strict(raw string) (Response, error) {
	var r Response
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&r); err != nil {
		return Response{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Response{}, errTrailingData
	}

	products := make([]Product, 0, len(r.Products))
	for i, p := range r.Products {
		np, err := n.product(p)
		if err != nil {
			return Response{}, fmt.Errorf("product %d: %w", i, err)
		}
		products = append(products, np)
	}

	return Response{Products: products, Promotions: cleanPromotions(r.Promotions)}, nil
}

// salvage parses raw loosely and keeps the products that individually pass
// normalization. It reports false when no JSON structure is recoverable.
func (n *normalizer) salvage(raw string) (Response, bool) {
	root, ok := decodeLoose(StripMarkdownCodeBlock(raw))
	if !ok {
		root, ok = findObject(raw)
	}
	if !ok {
		return Response{}, false
	}

	var items, promos any
	switch v := root.(type) {
	case map[string]any:
		items, promos = v["products"], v["promotions"]
	case []any:
		items = v
	default:
		return Response{}, false
	}

	var resp Response
	for i, item := range asList(items) {
		m, ok := item.(map[string]any)
		if !ok {
			logger.Debug("extractor dropped product", "index", i, "reason", "not an object")
			continue
		}
		p, err := n.product(n.productFromMap(m))
		if err != nil {
			logger.Debug("extractor dropped product", "index", i, "reason", err)
			continue
		}
		resp.Products = append(resp.Products, p)
	}

	var texts []string
	for _, promo := range asList(promos) {
		texts = append(texts, coercePromotion(promo))
	}
	resp.Promotions = cleanPromotions(texts)

	return resp, true
}

func (n *normalizer) productFromMap(m map[string]any) Product {
	p := Product{
		ProductIdentifier: stringify(m["product_identifier"]),
		Name:              stringify(m["name"]),
		Currency:          stringify(m["currency"]),
		Category:          stringify(m["category"]),
		Description:       stringify(m["description"]),
		ProductURL:        stringify(m["product_url"]),
		ImageURL:          stringify(m["image_url"]),
		IsAvailable:       boolValue(m["is_available"], true),
	}

	switch v := m["price"].(type) {
	case float64:
		p.Price = v
	case string:
		p.Price, _ = parsePrice(v)
		if strings.TrimSpace(p.Currency) == "" {
			p.Currency = n.inferCurrency(v)
		}
	}
	return p
}

// coercePromotion turns a promotion of any shape into text, preferring the
// description, name, code and text fields of objects.
func coercePromotion(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return stringify(v)
	}
	for _, key := range []string{"description", "name", "code", "text"} {
		if s := strings.TrimSpace(stringify(m[key])); s != "" {
			return s
		}
	}
	return stringify(m)
}

// cleanPromotions trims, drops empties and de-duplicates preserving order.
func cleanPromotions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = cleanText(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func decodeLoose(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// findObject returns the first balanced {...} object in text that decodes
// and carries a products or promotions key.
func findObject(text string) (any, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > 0 {
			if v, ok := decodeLoose(text[start : end+1]); ok {
				if m, ok := v.(map[string]any); ok {
					if _, has := m["products"]; has {
						return m, true
					}
					if _, has := m["promotions"]; has {
						return m, true
					}
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// stringify renders a JSON scalar as text; objects and arrays are
// rendered as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func boolValue(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b
		}
	case float64:
		return t != 0
	}
	return def
}
