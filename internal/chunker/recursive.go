// Package chunker splits text into token-budgeted chunks for embedding.
// Two strategies live here: a recursive splitter for page-extracted
// prose and a Q/A-pair splitter for FAQ documents.
package chunker

import (
	"regexp"
	"strings"

	"github.com/nxen/ragtree/internal/tokenizer"
)

// Page is one unit of input text with its source page number.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded-size text segment with provenance metadata.
// CharRange is a half-open byte-offset range advancing monotonically
// across the whole input stream.
type Chunk struct {
	Content    string `json:"content"`
	PageNumber int    `json:"page_number"`
	ChunkIndex int    `json:"chunk_index"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	TokenCount int    `json:"token_count"`
	Model      string `json:"model"`
}

const (
	// hardSplitWindow caps a hard-split piece in runes.
	hardSplitWindow = 500
	// hardSplitForced is the cut size when no break point is found
	// inside the window.
	hardSplitForced = 300
)

var (
	cjkSentenceRe   = regexp.MustCompile(`[。！？\n]+`)
	latinSentenceRe = regexp.MustCompile(`[.!?\n]+`)
)

// RecursiveChunker enforces a token budget on paragraph text via
// paragraph, then sentence, then hard character-range splitting.
type RecursiveChunker struct {
	maxTokens int
	enc       *tokenizer.Encoder
}

// NewRecursiveChunker validates the model name against the tokenizer
// service up front so an unsupported model fails at construction.
func NewRecursiveChunker(svc *tokenizer.Service, maxTokens int, model string) (*RecursiveChunker, error) {
	enc, err := svc.Encoder(model)
	if err != nil {
		return nil, err
	}
	return &RecursiveChunker{maxTokens: maxTokens, enc: enc}, nil
}

// Chunk splits the given pages into an ordered sequence of chunks, each
// within the token budget. Chunk indexes increase by one per emitted
// chunk across all pages, and char ranges never overlap.
func (c *RecursiveChunker) Chunk(pages []Page) []Chunk {
	st := &chunkState{chunker: c}
	for _, page := range pages {
		for _, para := range splitParagraphs(page.Text) {
			if c.enc.Count(para) <= c.maxTokens {
				st.emit(para, page.Number)
				continue
			}
			c.splitBySentences(st, para, page.Number)
		}
	}
	return st.chunks
}

// chunkState carries the globally advancing offset and index.
type chunkState struct {
	chunker *RecursiveChunker
	chunks  []Chunk
	offset  int
	index   int
}

func (st *chunkState) emit(content string, page int) {
	end := st.offset + len(content)
	st.chunks = append(st.chunks, Chunk{
		Content:    content,
		PageNumber: page,
		ChunkIndex: st.index,
		CharStart:  st.offset,
		CharEnd:    end,
		TokenCount: st.chunker.enc.Count(content),
		Model:      st.chunker.enc.Model(),
	})
	st.index++
	st.offset = end + 1 // account for the separator between units
}

// splitBySentences greedily packs sentences into the budget. A sentence
// that alone exceeds the budget is hard-split into character windows.
func (c *RecursiveChunker) splitBySentences(st *chunkState, text string, page int) {
	var buffer string
	for _, sent := range splitSentences(text) {
		candidate := sent
		if buffer != "" {
			candidate = buffer + " " + sent
		}
		if c.enc.Count(candidate) <= c.maxTokens {
			buffer = candidate
			continue
		}
		if buffer != "" {
			st.emit(buffer, page)
		}
		if c.enc.Count(sent) <= c.maxTokens {
			buffer = sent
		} else {
			c.hardSplit(st, sent, page)
			buffer = ""
		}
	}
	if buffer != "" {
		st.emit(buffer, page)
	}
}

// hardSplit cuts an oversized sentence into rune windows, preferring to
// end each window at a whitespace or punctuation boundary. The forced
// cut guarantees progress even when no boundary exists.
func (c *RecursiveChunker) hardSplit(st *chunkState, text string, page int) {
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := min(i+hardSplitWindow, len(runes))
		if end < len(runes) {
			boundary := end
			for boundary > i && !isGoodBreak(runes[boundary-1]) {
				boundary--
			}
			if boundary == i {
				boundary = min(i+hardSplitForced, len(runes))
			}
			end = boundary
		}
		st.emit(string(runes[i:end]), page)
		i = end
	}
}

func isGoodBreak(r rune) bool {
	switch r {
	case '，', ',', '；', ';', '：', ':':
		return true
	}
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// splitParagraphs splits on blank-line boundaries, dropping empties.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits on CJK sentence punctuation first; if that
// yields at most one sentence it falls back to Latin punctuation. The
// terminating punctuation stays attached to its sentence.
func splitSentences(text string) []string {
	sentences := splitKeepingDelims(text, cjkSentenceRe)
	if len(sentences) <= 1 {
		sentences = splitKeepingDelims(text, latinSentenceRe)
	}
	return sentences
}

func splitKeepingDelims(text string, re *regexp.Regexp) []string {
	var out []string
	start := 0
	for _, m := range re.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:m[1]]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
