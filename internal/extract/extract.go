// Package extract turns uploaded documents into plain text for chunking.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/inbucket/html2text"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

var ErrUnsupportedFormat = errors.New("unsupported file type")

var (
	mdExtensions = parser.CommonExtensions | parser.NoEmptyLineBeforeBlock
	htmlPolicy   = bluemonday.UGCPolicy()
	textOptions  = html2text.Options{OmitLinks: true, PrettyTables: true}
)

// Supported reports whether filename has an extension Text understands.
func Supported(filename string) bool {
	switch ext(filename) {
	case ".txt", ".md", ".markdown", ".html", ".htm", ".pdf", ".docx":
		return true
	}
	return false
}

// Text extracts the readable text of content, choosing the decoder by the
// extension of filename.
func Text(filename string, content []byte) (string, error) {
	switch ext(filename) {
	case ".txt":
		return plain(content), nil
	case ".md", ".markdown":
		return fromMarkdown(content)
	case ".html", ".htm":
		return fromHTML(content)
	case ".pdf":
		return fromPDF(content)
	case ".docx":
		return fromDOCX(content)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// plain drops invalid UTF-8 sequences.
func plain(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	return strings.ToValidUTF8(string(content), "")
}

func fromMarkdown(content []byte) (string, error) {
	p := parser.NewWithExtensions(mdExtensions)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.Render(p.Parse(content), renderer)
	return fromHTML(rendered)
}

func fromHTML(content []byte) (string, error) {
	sanitized := htmlPolicy.SanitizeBytes(content)
	text, err := html2text.FromString(string(sanitized), textOptions)
	if err != nil {
		return "", fmt.Errorf("failed to convert html: %w", err)
	}
	return text, nil
}

func fromPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}
