package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Service counts BPE tokens for a named model. Encoders are compiled lazily
// on first use and cached for the process lifetime, so repeated counts for
// the same model reuse one encoder. Safe for concurrent use.
type Service struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewService() *Service {
	return &Service{
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// Encoder binds an encoder to a model name for hot-path counting.
// Constructing it up front surfaces an unsupported model as a single
// configuration error instead of a per-call failure.
type Encoder struct {
	tk    *tiktoken.Tiktoken
	model string
}

// Count returns the token count of text for the bound model.
func (e *Encoder) Count(text string) int {
	return len(e.tk.Encode(text, nil, nil))
}

// Model returns the model name the encoder was requested for.
func (e *Encoder) Model() string {
	return e.model
}

// Encoder returns a counting handle for the given model name, resolving
// aliases to one canonical encoder key.
func (s *Service) Encoder(model string) (*Encoder, error) {
	tk, err := s.lookup(model)
	if err != nil {
		return nil, err
	}
	return &Encoder{tk: tk, model: model}, nil
}

// CountTokens returns the token count of text under the given model's
// tokenizer.
func (s *Service) CountTokens(text, model string) (int, error) {
	tk, err := s.lookup(model)
	if err != nil {
		return 0, err
	}
	return len(tk.Encode(text, nil, nil)), nil
}

// lookup returns the cached encoder for the canonical key, compiling it
// under the lock on first use. The lock is held only for the map access
// and construction, never while encoding.
func (s *Service) lookup(model string) (*tiktoken.Tiktoken, error) {
	key := Canonical(model)

	s.mu.Lock()
	defer s.mu.Unlock()

	if tk, ok := s.encoders[key]; ok {
		return tk, nil
	}
	tk, err := tiktoken.EncodingForModel(key)
	if err != nil {
		return nil, fmt.Errorf("tokenizer for model %q (canonical %q): %w", model, key, err)
	}
	s.encoders[key] = tk
	return tk, nil
}

// Canonical normalizes model name aliases to a single encoder key.
// Unknown names pass through unchanged.
func Canonical(model string) string {
	switch strings.ToLower(strings.TrimSpace(model)) {
	case "gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini":
		return "gpt-4o"
	case "gpt-3.5", "gpt-3.5-turbo", "chatgpt":
		return "gpt-3.5-turbo"
	case "text-embedding-3-small", "embedding-small":
		return "text-embedding-3-small"
	case "text-embedding-3-large", "embedding-large":
		return "text-embedding-3-large"
	case "text-embedding-ada-002", "ada":
		return "text-embedding-ada-002"
	// Qwen models tokenize close enough to the GPT-4 family for budget
	// purposes; map them onto the same encoder.
	case "qwen", "qwen-max", "qwen-plus", "qwen-turbo", "qwen-7b", "qwen-14b", "qwen-72b":
		return "gpt-4o"
	default:
		return model
	}
}
