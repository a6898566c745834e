// Package textchunk splits long text into sentence-aligned chunks that fit a
// per-call character budget of a speech synthesizer.
package textchunk

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidMaxChars is returned when the character budget is not positive.
var ErrInvalidMaxChars = errors.New("max chars must be positive")

// Chunk is one element of a chunk plan.
type Chunk struct {
	Text string
	// Overflow marks a chunk holding a single word longer than the budget.
	Overflow bool
}

// Normalize collapses every whitespace run to a single space and trims the
// result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// SplitSentences splits text at '.', '!' or '?' followed by whitespace.
// Whitespace is normalized first; empty input yields no sentences.
func SplitSentences(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if !isTerminal(text[i]) || text[i+1] != ' ' {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 2
	}
	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Split returns the chunk texts for text under a budget of maxChars code
// points per chunk.
func Split(text string, maxChars int) ([]string, error) {
	plan, err := Plan(text, maxChars)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		return nil, nil
	}
	out := make([]string, len(plan))
	for i, c := range plan {
		out[i] = c.Text
	}
	return out, nil
}

// Plan partitions text into chunks. Sentences are packed greedily, joined by
// a single space. A sentence longer than maxChars is packed word by word, and
// a word longer than maxChars becomes its own overflowing chunk.
func Plan(text string, maxChars int) ([]Chunk, error) {
	if maxChars <= 0 {
		return nil, ErrInvalidMaxChars
	}
	text = Normalize(text)
	if text == "" {
		return nil, nil
	}

	var (
		chunks  []Chunk
		current packer
	)
	for _, sentence := range SplitSentences(text) {
		if runeLen(sentence) > maxChars {
			chunks = current.flush(chunks)

			var words packer
			for _, word := range strings.Fields(sentence) {
				if !words.fits(word, maxChars) {
					chunks = words.flushTagged(chunks, maxChars)
				}
				words.add(word)
			}
			chunks = words.flushTagged(chunks, maxChars)
			continue
		}

		if !current.fits(sentence, maxChars) {
			chunks = current.flush(chunks)
		}
		current.add(sentence)
	}
	return current.flush(chunks), nil
}

// packer accumulates pieces of one chunk.
type packer struct {
	parts  []string
	length int
}

func (p *packer) fits(piece string, maxChars int) bool {
	if len(p.parts) == 0 {
		return true
	}
	return p.length+1+runeLen(piece) <= maxChars
}

func (p *packer) add(piece string) {
	if len(p.parts) > 0 {
		p.length++
	}
	p.parts = append(p.parts, piece)
	p.length += runeLen(piece)
}

func (p *packer) flush(chunks []Chunk) []Chunk {
	if len(p.parts) == 0 {
		return chunks
	}
	chunks = append(chunks, Chunk{Text: strings.Join(p.parts, " ")})
	p.parts = nil
	p.length = 0
	return chunks
}

// flushTagged is flush for word packing: a lone word over the budget is
// emitted as an overflow chunk.
func (p *packer) flushTagged(chunks []Chunk, maxChars int) []Chunk {
	overflow := len(p.parts) == 1 && p.length > maxChars
	chunks = p.flush(chunks)
	if overflow {
		chunks[len(chunks)-1].Overflow = true
	}
	return chunks
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
