// Package batcher splits cleaned page text into bounded chunks on sentence
// boundaries so each chunk fits a single extraction request.
package batcher

import "strings"

// DefaultMaxChars is the default upper bound on a batch length.
const DefaultMaxChars = 7500

// separator is the sentence boundary: a period followed by a space.
const separator = ". "

// Batches is an ordered sequence of text chunks. Joining it with a single
// space reproduces the input text.
type Batches []string

// Split breaks text into batches of at most maxChars characters. Sentences
// are accumulated greedily; a sentence that alone exceeds maxChars becomes
// its own oversized batch and is never truncated. A maxChars of zero or
// less selects DefaultMaxChars. Blank text yields no batches.
func Split(text string, maxChars int) Batches {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= maxChars {
		return Batches{text}
	}

	var (
		batches Batches
		current strings.Builder
	)
	for _, sentence := range sentences(text) {
		if current.Len() == 0 {
			current.WriteString(sentence)
			continue
		}
		if current.Len()+1+len(sentence) > maxChars {
			batches = append(batches, current.String())
			current.Reset()
			current.WriteString(sentence)
			continue
		}
		current.WriteByte(' ')
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		batches = append(batches, current.String())
	}
	return batches
}

// sentences splits text on the separator, keeping the period with the
// sentence it ends. Joining the result with a space restores text.
func sentences(text string) []string {
	parts := strings.Split(text, separator)
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += "."
	}
	return parts
}

// Each calls fn for every batch in order and stops at the first error.
func (b Batches) Each(fn func(index int, batch string) error) error {
	for i, batch := range b {
		if err := fn(i, batch); err != nil {
			return err
		}
	}
	return nil
}

// Join rebuilds the text the batches were split from.
func (b Batches) Join() string {
	return strings.Join(b, " ")
}

// Oversized reports the indexes of batches longer than maxChars. Only
// single sentences exceeding the bound can produce one.
func (b Batches) Oversized(maxChars int) []int {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var idx []int
	for i, batch := range b {
		if len(batch) > maxChars {
			idx = append(idx, i)
		}
	}
	return idx
}
