package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/nxen/ragtree/internal/doctree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser builds a document tree from markdown using goldmark.
// Headings become intermediate nodes nested by level; paragraphs, code
// blocks, tables, and images become leaves under the closest heading.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename, docID string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	b := newTreeBuilder(docID, filename)
	if err := b.build(doc, src); err != nil {
		return nil, err
	}
	return &Document{Tree: b.tree}, nil
}

// contentSink identifies where text events are routed. Exactly one sink
// is active at a time, so interleaved markdown elements cannot corrupt
// each other's buffers.
type contentSink int

const (
	sinkNone contentSink = iota
	sinkHeading
	sinkParagraph
	sinkCode
	sinkTable
	sinkImage
)

type stackEntry struct {
	id        doctree.NodeID
	hierarchy []string
}

// treeBuilder is the single-pass state machine that turns goldmark walk
// events into tree mutations.
type treeBuilder struct {
	tree       *doctree.Tree
	documentID string
	fileName   string

	// One entry per open nesting level; entry 0 is the root. Truncated to
	// the heading's level before resolving a parent, so headings nest
	// strictly by level even when the source skips levels.
	headingStack []stackEntry

	currentParent doctree.NodeID
	currentHier   []string

	sink     contentSink
	prevSink contentSink // restored when an inline image closes

	headingLevel int
	headingBuf   strings.Builder
	paragraphBuf strings.Builder

	tableHeader []string
	tableRows   [][]string
	currentRow  []string
	cellBuf     strings.Builder

	imageAlt  strings.Builder
	imagePath string

	chunkIndex int
}

func newTreeBuilder(docID, fileName string) *treeBuilder {
	root := doctree.NewRoot(docID, fileName)
	return &treeBuilder{
		tree:          doctree.New(root),
		documentID:    docID,
		fileName:      fileName,
		headingStack:  []stackEntry{{id: root.ID, hierarchy: []string{"Root"}}},
		currentParent: root.ID,
		currentHier:   []string{"Root"},
	}
}

func (b *treeBuilder) build(doc ast.Node, src []byte) error {
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			return b.enter(n, src)
		}
		return b.exit(n, src)
	})
	if err != nil {
		return err
	}
	// Flush any text that never saw a closing paragraph event.
	return b.flushParagraph()
}

func (b *treeBuilder) enter(n ast.Node, src []byte) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		b.truncateStack(node.Level)
		b.sink = sinkHeading
		b.headingLevel = node.Level
		b.headingBuf.Reset()

	case *ast.Paragraph, *ast.TextBlock:
		if b.sink == sinkNone {
			b.sink = sinkParagraph
		}

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		b.sink = sinkCode
		return ast.WalkSkipChildren, nil

	case *east.Table:
		b.sink = sinkTable
		b.tableHeader = nil
		b.tableRows = nil
		b.currentRow = nil

	case *east.TableCell:
		b.cellBuf.Reset()

	case *ast.Image:
		b.prevSink = b.sink
		b.sink = sinkImage
		b.imageAlt.Reset()
		b.imageAlt.Write(node.Title)
		b.imagePath = string(node.Destination)

	case *ast.CodeSpan:
		if b.sink == sinkParagraph {
			b.paragraphBuf.WriteString("`" + string(inlineText(node, src)) + "`")
		}
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		b.routeText(node, src)
	}
	return ast.WalkContinue, nil
}

func (b *treeBuilder) exit(n ast.Node, src []byte) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		if err := b.closeHeading(); err != nil {
			return ast.WalkStop, err
		}

	case *ast.Paragraph, *ast.TextBlock:
		if b.sink == sinkParagraph {
			if err := b.flushParagraph(); err != nil {
				return ast.WalkStop, err
			}
			b.sink = sinkNone
		}

	case *ast.FencedCodeBlock:
		if err := b.closeCode(node.Lines(), src); err != nil {
			return ast.WalkStop, err
		}

	case *ast.CodeBlock:
		if err := b.closeCode(node.Lines(), src); err != nil {
			return ast.WalkStop, err
		}

	case *east.TableCell:
		if b.sink == sinkTable {
			b.currentRow = append(b.currentRow, strings.TrimSpace(b.cellBuf.String()))
		}

	case *east.TableHeader:
		if b.sink == sinkTable {
			b.tableHeader = b.currentRow
			b.currentRow = nil
		}

	case *east.TableRow:
		if b.sink == sinkTable && b.tableHeader != nil {
			b.tableRows = append(b.tableRows, b.currentRow)
			b.currentRow = nil
		}

	case *east.Table:
		if err := b.closeTable(); err != nil {
			return ast.WalkStop, err
		}

	case *ast.Image:
		if err := b.closeImage(); err != nil {
			return ast.WalkStop, err
		}
	}
	return ast.WalkContinue, nil
}

func (b *treeBuilder) routeText(node *ast.Text, src []byte) {
	value := string(node.Segment.Value(src))
	switch b.sink {
	case sinkHeading:
		b.headingBuf.WriteString(value)
	case sinkTable:
		b.cellBuf.WriteString(value)
	case sinkImage:
		b.imageAlt.WriteString(value)
	case sinkParagraph:
		b.paragraphBuf.WriteString(value)
		if node.SoftLineBreak() || node.HardLineBreak() {
			b.paragraphBuf.WriteByte(' ')
		}
	}
}

// truncateStack pops entries above the given heading level. Entry 0 (the
// root) always survives.
func (b *treeBuilder) truncateStack(level int) {
	for len(b.headingStack) > level {
		b.headingStack = b.headingStack[:len(b.headingStack)-1]
	}
}

func (b *treeBuilder) closeHeading() error {
	title := strings.TrimSpace(b.headingBuf.String())
	b.headingBuf.Reset()
	b.sink = sinkNone
	if title == "" {
		// Malformed heading: skip it, content keeps the current parent.
		return nil
	}

	b.truncateStack(b.headingLevel)
	top := b.headingStack[len(b.headingStack)-1]

	hier := make([]string, 0, len(top.hierarchy)+1)
	hier = append(hier, top.hierarchy...)
	hier = append(hier, title)

	section := doctree.NewIntermediate(top.id, title, hier, b.documentID)
	if err := b.tree.AddNode(section); err != nil {
		return fmt.Errorf("heading %q: %w", title, err)
	}

	b.headingStack = append(b.headingStack, stackEntry{id: section.ID, hierarchy: hier})
	b.currentParent = section.ID
	b.currentHier = hier
	return nil
}

func (b *treeBuilder) flushParagraph() error {
	text := strings.TrimSpace(b.paragraphBuf.String())
	b.paragraphBuf.Reset()
	if text == "" {
		return nil
	}
	return b.addLeaf(doctree.LeafParams{
		Parent:     b.currentParent,
		Text:       text,
		Hierarchy:  b.currentHier,
		DocumentID: b.documentID,
		FileName:   b.fileName,
	})
}

func (b *treeBuilder) closeCode(lines *text.Segments, src []byte) error {
	b.sink = sinkNone
	var buf strings.Builder
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(src))
	}
	code := strings.TrimRight(buf.String(), "\n")
	if code == "" {
		return nil
	}
	return b.addLeaf(doctree.LeafParams{
		Parent:     b.currentParent,
		Text:       code,
		Hierarchy:  b.currentHier,
		DocumentID: b.documentID,
		FileName:   b.fileName,
	})
}

func (b *treeBuilder) closeTable() error {
	b.sink = sinkNone
	if b.tableHeader == nil && len(b.tableRows) == 0 {
		return nil
	}

	var md strings.Builder
	if b.tableHeader != nil {
		md.WriteString("| " + strings.Join(b.tableHeader, " | ") + " |\n")
		divider := make([]string, len(b.tableHeader))
		for i := range divider {
			divider[i] = "---"
		}
		md.WriteString("| " + strings.Join(divider, " | ") + " |\n")
	}
	for _, row := range b.tableRows {
		md.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	rendered := md.String()
	if strings.TrimSpace(rendered) == "" {
		return nil
	}

	b.tableHeader = nil
	b.tableRows = nil
	return b.addLeaf(doctree.LeafParams{
		Parent:     b.currentParent,
		Text:       rendered,
		Hierarchy:  b.currentHier,
		DocumentID: b.documentID,
		FileName:   b.fileName,
		Segment:    fmt.Sprintf("table_%d", b.chunkIndex),
	})
}

func (b *treeBuilder) closeImage() error {
	alt := strings.TrimSpace(b.imageAlt.String())
	path := b.imagePath
	b.sink = b.prevSink
	b.imageAlt.Reset()
	b.imagePath = ""

	// The image reference replaces any paragraph text gathered before it.
	b.paragraphBuf.Reset()

	imageID := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		imageID = path[i+1:]
	}

	return b.addLeaf(doctree.LeafParams{
		Parent:     b.currentParent,
		Text:       fmt.Sprintf("![%s](%s)", alt, path),
		Hierarchy:  b.currentHier,
		DocumentID: b.documentID,
		FileName:   b.fileName,
		ImageAlt:   alt,
		ImagePath:  path,
		ImageID:    imageID,
		Segment:    fmt.Sprintf("img_%d", b.chunkIndex),
	})
}

// addLeaf wraps leaf creation so the chunk index advances exactly once
// per emitted leaf. Hierarchy in params excludes the chunk segment; the
// doctree constructor appends it.
func (b *treeBuilder) addLeaf(p doctree.LeafParams) error {
	p.ChunkIndex = b.chunkIndex
	leaf := doctree.NewLeaf(p)
	if err := b.tree.AddNode(leaf); err != nil {
		return err
	}
	b.chunkIndex++
	return nil
}

// inlineText concatenates the raw text of an inline node's children.
func inlineText(n ast.Node, src []byte) []byte {
	var buf []byte
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf = append(buf, t.Segment.Value(src)...)
		}
	}
	return buf
}
