package chunker

import (
	"errors"
	"fmt"
)

// ErrInvalidWindow is returned when the window parameters cannot advance.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Tokenizer turns text into an ordered sequence of token ids and back.
// Implementations must be deterministic.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunk is one token window of a document. Start and End delimit the
// window's token range [Start, End) in the tokenized document.
type Chunk struct {
	Text  string
	Index int
	Start int
	End   int
}

// Config holds the window size and the number of tokens shared by
// consecutive windows.
type Config struct {
	MaxTokens int
	Overlap   int
}

func DefaultConfig() Config {
	return Config{MaxTokens: 300, Overlap: 50}
}

func (c Config) validate() error {
	if c.MaxTokens <= 0 || c.Overlap < 0 || c.Overlap >= c.MaxTokens {
		return fmt.Errorf("%w: max_tokens=%d overlap=%d", ErrInvalidWindow, c.MaxTokens, c.Overlap)
	}
	return nil
}

// ChunkText splits text into overlapping windows of at most cfg.MaxTokens
// tokens. Each window starts cfg.MaxTokens-cfg.Overlap tokens after the
// previous one, and the last window may be shorter. Empty input yields no
// chunks.
func ChunkText(tok Tokenizer, text string, cfg Config) ([]Chunk, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return []Chunk{}, nil
	}

	tokens := tok.Encode(text)
	n := len(tokens)
	if n == 0 {
		return []Chunk{}, nil
	}

	step := cfg.MaxTokens - cfg.Overlap
	chunks := make([]Chunk, 0, n/step+1)

	for start := 0; start < n; start += step {
		end := min(start+cfg.MaxTokens, n)
		chunks = append(chunks, Chunk{
			Text:  tok.Decode(tokens[start:end]),
			Index: len(chunks),
			Start: start,
			End:   end,
		})
		if end == n {
			break
		}
	}

	return chunks, nil
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
