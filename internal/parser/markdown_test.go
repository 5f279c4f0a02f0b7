package parser

import (
	"strconv"
	"strings"
	"testing"

	"github.com/nxen/ragtree/internal/doctree"
)

func parseMarkdown(t *testing.T, input, docID string) *doctree.Tree {
	t.Helper()
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "doc.md", docID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Tree == nil {
		t.Fatal("expected a tree, got nil")
	}
	return doc.Tree
}

// leavesInOrder returns leaf nodes in document order by walking each
// parent's child list from the root.
func leavesInOrder(tree *doctree.Tree) []*doctree.Node {
	var leaves []*doctree.Node
	var walk func(id doctree.NodeID)
	walk = func(id doctree.NodeID) {
		n := tree.Nodes[id]
		if n == nil {
			return
		}
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		for _, child := range n.Children() {
			walk(child)
		}
	}
	walk(tree.Root)
	return leaves
}

func findByTitle(tree *doctree.Tree, title string) *doctree.Node {
	for _, n := range tree.Nodes {
		if n.Type == doctree.TypeIntermediate && n.Title == title {
			return n
		}
	}
	return nil
}

func TestMarkdown_HeadingNesting(t *testing.T) {
	tree := parseMarkdown(t, "# T\n## S\npara text", "d1")

	top := findByTitle(tree, "T")
	if top == nil {
		t.Fatal("missing intermediate node for T")
	}
	parent, _ := top.ParentID()
	if parent != tree.Root {
		t.Errorf("expected T under root, got parent %s", parent)
	}

	sub := findByTitle(tree, "S")
	if sub == nil {
		t.Fatal("missing intermediate node for S")
	}
	parent, _ = sub.ParentID()
	if parent != top.ID {
		t.Errorf("expected S under T, got parent %s", parent)
	}

	leaves := leavesInOrder(tree)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	leaf := leaves[0]
	if leaf.Text != "para text" {
		t.Errorf("expected leaf text %q, got %q", "para text", leaf.Text)
	}
	wantHier := []string{"Root", "T", "S", "chunk_0_9"}
	if len(leaf.Metadata.Hierarchy) != len(wantHier) {
		t.Fatalf("expected hierarchy %v, got %v", wantHier, leaf.Metadata.Hierarchy)
	}
	for i := range wantHier {
		if leaf.Metadata.Hierarchy[i] != wantHier[i] {
			t.Errorf("hierarchy[%d]: expected %q, got %q", i, wantHier[i], leaf.Metadata.Hierarchy[i])
		}
	}
	if leaf.Metadata.DocumentID != "d1" {
		t.Errorf("expected document id %q, got %q", "d1", leaf.Metadata.DocumentID)
	}
}

func TestMarkdown_SkippedHeadingLevels(t *testing.T) {
	// h1 straight to h3: the h3 must still nest under the h1.
	tree := parseMarkdown(t, "# Top\n### Deep\ncontent", "d1")

	top := findByTitle(tree, "Top")
	deep := findByTitle(tree, "Deep")
	if top == nil || deep == nil {
		t.Fatal("missing intermediate nodes")
	}
	parent, _ := deep.ParentID()
	if parent != top.ID {
		t.Errorf("expected Deep under Top, got parent %s", parent)
	}
}

func TestMarkdown_SiblingSectionsResetParent(t *testing.T) {
	input := "# Doc\n## A\nalpha\n\n## B\nbeta\n"
	tree := parseMarkdown(t, input, "d1")

	a := findByTitle(tree, "A")
	b := findByTitle(tree, "B")
	if a == nil || b == nil {
		t.Fatal("missing section nodes")
	}
	pa, _ := a.ParentID()
	pb, _ := b.ParentID()
	if pa != pb {
		t.Errorf("expected A and B to share a parent, got %s and %s", pa, pb)
	}

	leaves := leavesInOrder(tree)
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(leaves))
	}
	if leaves[0].Text != "alpha" || leaves[1].Text != "beta" {
		t.Errorf("expected leaves alpha/beta, got %q/%q", leaves[0].Text, leaves[1].Text)
	}
	if p, _ := leaves[1].ParentID(); p != b.ID {
		t.Errorf("expected beta under B, got parent %s", p)
	}
}

func TestMarkdown_CodeBlock(t *testing.T) {
	input := "# Doc\n\n```python\nprint(\"hello\")\n```\n"
	tree := parseMarkdown(t, input, "d1")

	leaves := leavesInOrder(tree)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	if leaves[0].Text != `print("hello")` {
		t.Errorf("expected code text, got %q", leaves[0].Text)
	}
}

func TestMarkdown_Table(t *testing.T) {
	input := "# Doc\n\n| Year | Event |\n|------|-------|\n| 2020 | GPT-3 |\n| 2022 | ChatGPT |\n"
	tree := parseMarkdown(t, input, "d1")

	leaves := leavesInOrder(tree)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	text := leaves[0].Text
	for _, want := range []string{"| Year | Event |", "| --- | --- |", "| 2020 | GPT-3 |", "| 2022 | ChatGPT |"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected table text to contain %q, got:\n%s", want, text)
		}
	}

	hier := leaves[0].Metadata.Hierarchy
	if !strings.HasPrefix(hier[len(hier)-1], "table_") {
		t.Errorf("expected table_<n> hierarchy segment, got %v", hier)
	}
}

func TestMarkdown_Image(t *testing.T) {
	input := "# Doc\n\n![chip comparison](/docs/imgs/chips.jpg)\n"
	tree := parseMarkdown(t, input, "d1")

	leaves := leavesInOrder(tree)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	leaf := leaves[0]
	if leaf.Text != "![chip comparison](/docs/imgs/chips.jpg)" {
		t.Errorf("unexpected image text %q", leaf.Text)
	}
	if leaf.Metadata.ImageAlt != "chip comparison" {
		t.Errorf("expected alt %q, got %q", "chip comparison", leaf.Metadata.ImageAlt)
	}
	if leaf.Metadata.ImagePath != "/docs/imgs/chips.jpg" {
		t.Errorf("expected path %q, got %q", "/docs/imgs/chips.jpg", leaf.Metadata.ImagePath)
	}
	if leaf.Metadata.ImageID != "chips.jpg" {
		t.Errorf("expected image id %q, got %q", "chips.jpg", leaf.Metadata.ImageID)
	}
	hier := leaf.Metadata.Hierarchy
	if !strings.HasPrefix(hier[len(hier)-1], "img_") {
		t.Errorf("expected img_<n> hierarchy segment, got %v", hier)
	}
}

func TestMarkdown_EmptyHeadingSkipped(t *testing.T) {
	input := "# Real\n\n#   \n\ncontent under real\n"
	tree := parseMarkdown(t, input, "d1")

	count := 0
	for _, n := range tree.Nodes {
		if n.Type == doctree.TypeIntermediate {
			count++
			if strings.TrimSpace(n.Title) == "" {
				t.Errorf("found intermediate node with empty title")
			}
		}
	}
	if count != 1 {
		t.Errorf("expected 1 intermediate node, got %d", count)
	}

	leaves := leavesInOrder(tree)
	if len(leaves) != 1 {
		t.Fatalf("expected 1 leaf, got %d", len(leaves))
	}
	real := findByTitle(tree, "Real")
	if p, _ := leaves[0].ParentID(); p != real.ID {
		t.Errorf("expected content under Real, got parent %s", p)
	}
}

func TestMarkdown_ChunkIndexAdvancesPerLeaf(t *testing.T) {
	input := "# Doc\n\nfirst\n\nsecond\n\nthird\n"
	tree := parseMarkdown(t, input, "d1")

	leaves := leavesInOrder(tree)
	if len(leaves) != 3 {
		t.Fatalf("expected 3 leaves, got %d", len(leaves))
	}
	for i, leaf := range leaves {
		hier := leaf.Metadata.Hierarchy
		tail := hier[len(hier)-1]
		if !strings.HasPrefix(tail, "chunk_") {
			t.Fatalf("leaf %d: expected chunk_ segment, got %q", i, tail)
		}
		parts := strings.Split(tail, "_")
		if parts[1] != strconv.Itoa(i) {
			t.Errorf("leaf %d: expected chunk index %d, got %q", i, i, parts[1])
		}
	}
}

func TestMarkdown_StructureIsReproducible(t *testing.T) {
	input := "# T\n\nintro\n\n## S\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n```\ncode\n```\n"

	first := parseMarkdown(t, input, "d1")
	second := parseMarkdown(t, input, "d1")

	a := leavesInOrder(first)
	b := leavesInOrder(second)
	if len(a) != len(b) {
		t.Fatalf("leaf counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text {
			t.Errorf("leaf %d text differs: %q vs %q", i, a[i].Text, b[i].Text)
		}
		ha := strings.Join(a[i].Metadata.Hierarchy, ">")
		hb := strings.Join(b[i].Metadata.Hierarchy, ">")
		if ha != hb {
			t.Errorf("leaf %d hierarchy differs: %q vs %q", i, ha, hb)
		}
	}
}
