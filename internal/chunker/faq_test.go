package chunker

import (
	"strings"
	"testing"

	"github.com/nxen/ragtree/internal/tokenizer"
)

func newTestFAQChunker(t *testing.T, maxTokens, overlap int) *FAQChunker {
	t.Helper()
	c, err := NewFAQChunker(tokenizer.NewService(), maxTokens, overlap, "gpt-4o")
	if err != nil {
		t.Fatalf("NewFAQChunker: %v", err)
	}
	return c
}

func TestChunkByQA_SingleChunk(t *testing.T) {
	c := newTestFAQChunker(t, 200, 2)
	chunks := c.ChunkByQA([]FAQEntry{{
		Category: "Billing Questions",
		Question: "How do I pay?",
		Answer:   "Use the payment page.",
		Tags:     []string{"payment"},
	}})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	ch := chunks[0]
	if ch.FAQID != "faq-billing-questions-001" {
		t.Fatalf("unexpected faq id: %q", ch.FAQID)
	}
	if ch.ChunkID != "faq-billing-questions-001-chunk-1" {
		t.Fatalf("unexpected chunk id: %q", ch.ChunkID)
	}
	if ch.Content != "Q: How do I pay?\nA: Use the payment page." {
		t.Fatalf("unexpected content: %q", ch.Content)
	}
	if ch.Title != "How do I pay?" {
		t.Fatalf("unexpected title: %q", ch.Title)
	}
}

func TestChunkByQA_CategoryCountersIndependent(t *testing.T) {
	c := newTestFAQChunker(t, 200, 2)
	chunks := c.ChunkByQA([]FAQEntry{
		{Category: "Billing", Question: "Q1?", Answer: "A1."},
		{Category: "Shipping", Question: "Q2?", Answer: "A2."},
		{Category: "Billing", Question: "Q3?", Answer: "A3."},
	})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	want := []string{"faq-billing-001", "faq-shipping-001", "faq-billing-002"}
	for i, id := range want {
		if chunks[i].FAQID != id {
			t.Fatalf("chunk %d: expected faq id %q, got %q", i, id, chunks[i].FAQID)
		}
	}
}

func TestChunkByQA_OverlapUnitsRepeat(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("这是回答中的一个完整句子，描述了产品的某个功能。")
	}
	c := newTestFAQChunker(t, 60, 2)
	chunks := c.ChunkByQA([]FAQEntry{{
		Category: "产品",
		Question: "这个产品有哪些功能？",
		Answer:   b.String(),
	}})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.FAQID != "faq-产品-001" {
			t.Fatalf("chunk %d: unexpected faq id %q", i, ch.FAQID)
		}
		if ch.TokenCount <= 0 {
			t.Fatalf("chunk %d: missing token count", i)
		}
	}
	// Consecutive chunks share the seam: the second chunk starts with
	// the tail units of the first.
	first := splitSemanticUnits(chunks[0].Content)
	if len(first) < 2 {
		t.Fatalf("first chunk has too few units: %d", len(first))
	}
	tail := strings.Join(first[len(first)-2:], "")
	if !strings.HasPrefix(chunks[1].Content, tail) {
		t.Fatalf("second chunk does not start with overlap tail\n tail: %q\nchunk: %q", tail, chunks[1].Content)
	}
}

func TestSplitSemanticUnits_SentencePunctuation(t *testing.T) {
	units := splitSemanticUnits("第一句。第二句！short, clause. Done?")
	want := []string{"第一句。", "第二句！", "short, clause.", " Done?"}
	if len(units) != len(want) {
		t.Fatalf("expected %d units, got %d: %v", len(want), len(units), units)
	}
	for i := range want {
		if units[i] != want[i] {
			t.Fatalf("unit %d: expected %q, got %q", i, want[i], units[i])
		}
	}
}

func TestSplitSemanticUnits_ClauseBreakOnlyWhenLong(t *testing.T) {
	long := strings.Repeat("字", 60) + "，后半部分。"
	units := splitSemanticUnits(long)
	if len(units) != 2 {
		t.Fatalf("expected clause break for long unit, got %d units", len(units))
	}
	if !strings.HasSuffix(units[0], "，") {
		t.Fatalf("first unit should end with clause punctuation: %q", units[0])
	}
}

func TestParseFAQMarkdown(t *testing.T) {
	src := `# FAQ

## 1、账户问题

- Q1: 如何注册账户？
A: 点击注册按钮填写信息。

- Q2: 忘记密码怎么办？
A: 使用找回密码功能。

## Shipping

- Q1: When does my order ship?
A: Within two business days.
`
	entries := ParseFAQMarkdown(src)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Category != "账户问题" {
		t.Fatalf("ordinal not stripped from category: %q", entries[0].Category)
	}
	if entries[0].Question != "如何注册账户？" {
		t.Fatalf("unexpected question: %q", entries[0].Question)
	}
	if entries[0].Answer != "点击注册按钮填写信息。" {
		t.Fatalf("unexpected answer: %q", entries[0].Answer)
	}
	if entries[2].Category != "Shipping" {
		t.Fatalf("unexpected category: %q", entries[2].Category)
	}
	if entries[2].Answer != "Within two business days." {
		t.Fatalf("unexpected answer: %q", entries[2].Answer)
	}
}

func TestParseFAQMarkdown_AnswerWithoutQuestionIgnored(t *testing.T) {
	entries := ParseFAQMarkdown("## Cat\nA: orphan answer\n")
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
