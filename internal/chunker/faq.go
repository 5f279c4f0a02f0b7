package chunker

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/nxen/ragtree/internal/tokenizer"
)

// FAQEntry is one question/answer pair with its source category.
type FAQEntry struct {
	Category string   `json:"category"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Tags     []string `json:"tags,omitempty"`
}

// FAQChunk is an embeddable piece of one FAQ entry. All chunks of the
// same entry share FAQID; ChunkID appends a 1-based ordinal.
type FAQChunk struct {
	ChunkID    string   `json:"chunk_id"`
	FAQID      string   `json:"faq_id"`
	Category   string   `json:"category"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	TokenCount int      `json:"token_count"`
}

// FAQChunker splits FAQ entries into token-budgeted chunks with a
// configurable semantic-unit overlap between consecutive chunks.
type FAQChunker struct {
	maxTokens int
	overlap   int
	enc       *tokenizer.Encoder
}

// semanticUnitClauseMin is the rune length past which clause
// punctuation also counts as a unit boundary.
const semanticUnitClauseMin = 50

// NewFAQChunker validates the model up front, like NewRecursiveChunker.
func NewFAQChunker(svc *tokenizer.Service, maxTokens, overlap int, model string) (*FAQChunker, error) {
	enc, err := svc.Encoder(model)
	if err != nil {
		return nil, err
	}
	return &FAQChunker{maxTokens: maxTokens, overlap: overlap, enc: enc}, nil
}

// ChunkByQA turns FAQ entries into chunks. An entry within the budget
// becomes a single chunk; a larger one is split on semantic units with
// the last `overlap` units of each chunk repeated at the start of the
// next, so retrieval never loses the seam between chunks.
func (c *FAQChunker) ChunkByQA(entries []FAQEntry) []FAQChunk {
	var chunks []FAQChunk
	counters := make(map[string]int)
	for _, entry := range entries {
		counters[entry.Category]++
		faqID := fmt.Sprintf("faq-%s-%03d", slugify(entry.Category), counters[entry.Category])
		content := "Q: " + entry.Question + "\nA: " + entry.Answer

		if c.enc.Count(content) <= c.maxTokens {
			chunks = append(chunks, FAQChunk{
				ChunkID:    faqID + "-chunk-1",
				FAQID:      faqID,
				Category:   entry.Category,
				Title:      entry.Question,
				Content:    content,
				Tags:       entry.Tags,
				TokenCount: c.enc.Count(content),
			})
			continue
		}

		for i, part := range c.splitWithOverlap(content) {
			chunks = append(chunks, FAQChunk{
				ChunkID:    fmt.Sprintf("%s-chunk-%d", faqID, i+1),
				FAQID:      faqID,
				Category:   entry.Category,
				Title:      entry.Question,
				Content:    part,
				Tags:       entry.Tags,
				TokenCount: c.enc.Count(part),
			})
		}
	}
	return chunks
}

// splitWithOverlap packs semantic units greedily into the budget. When
// a chunk closes, its trailing `overlap` units seed the next chunk.
func (c *FAQChunker) splitWithOverlap(text string) []string {
	units := splitSemanticUnits(text)
	if len(units) <= 1 {
		units = splitSentences(text)
	}

	var parts []string
	var buffer []string
	for _, unit := range units {
		if len(buffer) > 0 && c.enc.Count(strings.Join(buffer, "")+unit) > c.maxTokens {
			// Close the chunk and carry its overlap tail forward.
			parts = append(parts, strings.Join(buffer, ""))
			tail := min(c.overlap, len(buffer))
			buffer = append([]string{}, buffer[len(buffer)-tail:]...)
		}
		buffer = append(buffer, unit)
	}
	if len(buffer) > 0 {
		parts = append(parts, strings.Join(buffer, ""))
	}
	return parts
}

// splitSemanticUnits cuts text after sentence punctuation always, and
// after clause punctuation only once the unit has grown past
// semanticUnitClauseMin runes. Punctuation stays with its unit.
func splitSemanticUnits(text string) []string {
	var units []string
	var current []rune
	for _, r := range text {
		current = append(current, r)
		switch r {
		case '。', '！', '？', '.', '!', '?', '；', ';', '\n':
			units = append(units, string(current))
			current = nil
		case '，', ',', '：', ':':
			if len(current) > semanticUnitClauseMin {
				units = append(units, string(current))
				current = nil
			}
		}
	}
	if len(current) > 0 {
		units = append(units, string(current))
	}
	return units
}

func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

// ParseFAQMarkdown extracts FAQ entries from a markdown document where
// "## " headings name categories, "- Q" list items carry questions and
// the following "A:" line carries the answer.
func ParseFAQMarkdown(src string) []FAQEntry {
	var entries []FAQEntry
	var category string
	var question string

	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "## "):
			category = cleanCategory(strings.TrimPrefix(line, "## "))
			question = ""
		case strings.HasPrefix(line, "- Q"):
			if _, rest, ok := strings.Cut(line, ": "); ok {
				question = strings.TrimSpace(rest)
			}
		case strings.HasPrefix(line, "A:") || strings.HasPrefix(line, "A："):
			if question == "" {
				continue
			}
			answer := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "A:"), "A："))
			entries = append(entries, FAQEntry{
				Category: category,
				Question: question,
				Answer:   answer,
			})
			question = ""
		}
	}
	return entries
}

// cleanCategory strips a leading "1、" or "1." style ordinal from a
// category heading.
func cleanCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{"、", "."} {
		if before, after, ok := strings.Cut(s, sep); ok {
			if isNumeric(before) {
				return strings.TrimSpace(after)
			}
		}
	}
	return s
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
