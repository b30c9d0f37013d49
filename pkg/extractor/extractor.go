// Package extractor turns cleaned page text into validated product records
// through a model call and a deterministic recovery ladder.
package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"

	"github.com/jmylchreest/pricewatch/internal/logger"
	"github.com/jmylchreest/pricewatch/pkg/llm"
)

var errNoProducts = errors.New("no products extracted")

// Cache stores extraction responses. Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Response, bool, error)
	Set(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

// Extractor extracts products and promotions from text batches.
type Extractor struct {
	provider llm.Provider
	config   Config
	cache    Cache
	validate *validator.Validate
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCache enables result caching.
func WithCache(c Cache) Option {
	return func(e *Extractor) { e.cache = c }
}

// New creates an Extractor backed by provider. Zero config fields take
// their defaults.
func New(provider llm.Provider, cfg Config, opts ...Option) *Extractor {
	e := &Extractor{
		provider: provider,
		config:   cfg.withDefaults(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the model identifier used for extraction.
func (e *Extractor) Model() string {
	return e.provider.Model()
}

// Extract runs extraction for one batch. Malformed model output and
// provider failures yield an empty result, never an error; the error is
// non-nil only when ctx is done.
func (e *Extractor) Extract(ctx context.Context, batch, baseURL string) (*Result, error) {
	result := &Result{Recovery: RecoveryNone}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	key := CacheKey(e.provider.Model(), baseURL, batch)
	if resp := e.lookup(ctx, key); resp != nil {
		logger.Debug("extractor cache hit", "products", len(resp.Products))
		result.Products, result.Promotions = resp.Products, resp.Promotions
		result.Cached, result.Recovery = true, RecoveryCached
		return result, nil
	}

	parts := SplitContent(batch, e.config.MaxContentSize)
	if len(parts) > 1 {
		logger.Warn("batch exceeds max content size, extracting in parts",
			"batch_size", len(batch),
			"max_content_size", e.config.MaxContentSize,
			"parts", len(parts))
	}

	n := newNormalizer(e.config, baseURL, e.validate)
	for _, part := range parts {
		if err := e.extractPart(ctx, part, baseURL, n, result); err != nil {
			return result, err
		}
	}
	result.Promotions = cleanPromotions(result.Promotions)

	if len(result.Products) > 0 {
		e.store(ctx, key, &Response{Products: result.Products, Promotions: result.Promotions})
	}

	logger.Debug("extractor finished",
		"products", len(result.Products),
		"promotions", len(result.Promotions),
		"attempts", result.Attempts,
		"recovery", result.Recovery,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens)

	return result, nil
}

// extractPart retries one piece of the batch until it yields products or
// the attempts run out, adding what it found to result.
func (e *Extractor) extractPart(ctx context.Context, content, baseURL string, n *normalizer, result *Result) error {
	var (
		found    Response
		recovery = RecoveryNone
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(e.config.MaxAttempts-1), retry.NewConstant(e.config.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		result.Attempts++
		resp, rec, usage := e.extractOnce(ctx, content, baseURL, n, attempts)
		result.Usage = result.Usage.Add(usage)
		found, recovery = resp, rec

		if len(resp.Products) == 0 {
			logger.Debug("extractor empty result", "attempt", attempts, "max_attempts", e.config.MaxAttempts)
			return retry.RetryableError(errNoProducts)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoProducts) {
		return err
	}

	result.Products = append(result.Products, found.Products...)
	result.Promotions = append(result.Promotions, found.Promotions...)
	if len(found.Products) > 0 || result.Recovery == RecoveryNone {
		result.Recovery = recovery
	}
	return nil
}

// extractOnce performs a single model call and parses its response.
func (e *Extractor) extractOnce(ctx context.Context, content, baseURL string, n *normalizer, attempt int) (Response, Recovery, llm.Usage) {
	prompt := BuildPrompt(content, baseURL)

	logger.Debug("extractor calling LLM",
		"provider", e.provider.Name(),
		"model", e.provider.Model(),
		"attempt", attempt,
		"prompt_size", len(prompt),
		"max_tokens", e.config.MaxTokens,
		"temperature", e.config.Temperature)

	resp, err := e.provider.Execute(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: SystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
		JSONSchema:  ResponseSchema(),
		StrictMode:  e.config.StrictMode,
	})
	if err != nil {
		logger.Warn("extractor LLM call failed",
			"provider", e.provider.Name(),
			"attempt", attempt,
			"error", err)
		return Response{}, RecoveryNone, llm.Usage{}
	}

	parsed, recovery := n.parse(resp.Content)
	logger.Debug("extractor response parsed",
		"response_size", len(resp.Content),
		"recovery", recovery,
		"products", len(parsed.Products),
		"duration", resp.Duration)

	return parsed, recovery, resp.Usage
}

func (e *Extractor) lookup(ctx context.Context, key string) *Response {
	if e.cache == nil {
		return nil
	}
	resp, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("extractor cache read failed", "error", err)
		return nil
	}
	if !ok || resp == nil || len(resp.Products) == 0 {
		return nil
	}
	return resp
}

func (e *Extractor) store(ctx context.Context, key string, resp *Response) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, resp, e.config.CacheTTL); err != nil {
		logger.Warn("extractor cache write failed", "error", err)
	}
}

// CacheKey derives the cache key for a batch extracted with model from a
// page under baseURL.
func CacheKey(model, baseURL, batch string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(baseURL))
	h.Write([]byte{0})
	h.Write([]byte(batch))
	return "extract:" + hex.EncodeToString(h.Sum(nil))
}
