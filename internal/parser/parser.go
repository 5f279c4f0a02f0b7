package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nxen/ragtree/internal/doctree"
)

// Page is a unit of extracted plain text for page-oriented formats.
type Page struct {
	Number int
	Text   string
}

// Document is the parse result. Markdown produces a hierarchy Tree;
// page-oriented formats (pdf, html, docx, txt, csv) produce Pages for
// flat token chunking. Exactly one of the two is set.
type Document struct {
	Tree  *doctree.Tree
	Pages []Page
}

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename, docID string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}
