package extractor

import (
	"strings"
	"unicode/utf8"
)

// SystemPrompt carries the extraction contract sent with every batch.
const SystemPrompt = `You are a data extraction assistant for e-commerce price monitoring.
Extract every product and promotion from text taken from a competitor website.

Respond with ONLY a JSON object of the form {"products": [...], "promotions": [...]}. No explanations.

Rules:
1. Extract only information present in the text. Never invent or guess data.
2. Use null for any field you are not certain about.
3. price is a bare number: no currency symbols, no thousands separators, no spaces.
4. product_identifier is the SKU, reference or model code; use the product name when no code is shown.
5. Lines naming only a category, a flower type or a material are not products. Skip them.
6. Resolve relative product_url and image_url values against the site URL given below.
7. Leave out any item that is missing more than one of product_identifier, name and price.
8. promotions is a list of plain strings describing offers, discounts or promo codes.`

// BuildPrompt creates the user prompt for one piece of page text.
func BuildPrompt(content, baseURL string) string {
	var prompt strings.Builder

	prompt.WriteString("Site URL: ")
	prompt.WriteString(baseURL)
	prompt.WriteString("\n\nExtract the products and promotions from the following page text.\n")
	prompt.WriteString("\n## Page Text\n")
	prompt.WriteString("```\n")
	prompt.WriteString(content)
	prompt.WriteString("\n```\n")

	return prompt.String()
}

// SplitContent cuts content into pieces of at most maxLen bytes, breaking
// at the last whitespace before the limit and never inside a rune. Only
// the whitespace at a break is dropped, so no text is lost. A word longer
// than maxLen is cut at the limit. maxLen of 0 means no limit.
func SplitContent(content string, maxLen int) []string {
	if maxLen <= 0 || len(content) <= maxLen {
		return []string{content}
	}

	var parts []string
	for len(content) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		if ws := strings.LastIndexAny(content[:cut], " \t\n\r"); ws > 0 {
			cut = ws
		}
		if cut == 0 {
			// A single rune wider than maxLen.
			_, cut = utf8.DecodeRuneInString(content)
		}
		if part := strings.TrimSpace(content[:cut]); part != "" {
			parts = append(parts, part)
		}
		content = strings.TrimLeft(content[cut:], " \t\n\r")
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}

// StripMarkdownCodeBlock removes markdown code block wrappers from JSON responses.
// Some models wrap their JSON output in ```json ... ``` blocks.
func StripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)

	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")

	// Drop the info string (json, JSON, javascript, ...) up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// ResponseSchema is the JSON schema attached to requests for providers
// that support structured output.
func ResponseSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"products": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"product_identifier": map[string]any{"type": "string", "minLength": 1, "maxLength": 255},
						"name":               map[string]any{"type": "string", "minLength": 1, "maxLength": 500},
						"price":              map[string]any{"type": "number", "exclusiveMinimum": 0},
						"currency":           map[string]any{"type": "string", "maxLength": 3},
						"category":           nullableString,
						"description":        nullableString,
						"product_url":        nullableString,
						"image_url":          nullableString,
						"is_available":       map[string]any{"type": "boolean"},
					},
					"required": []string{"product_identifier", "name", "price", "currency"},
				},
			},
			"promotions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"products", "promotions"},
	}
}
