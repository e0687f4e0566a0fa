package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// ErrUnsupportedFormat is returned for files ReadDocument cannot extract.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is the extracted text of one file.
type Document struct {
	Title   string
	Content string
	Format  string
}

// ReadDocument extracts text from a plain, markdown, HTML or PDF file.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	doc := &Document{Format: strings.TrimPrefix(ext, ".")}

	switch ext {
	case ".md", ".markdown":
		doc.Content = string(data)
		doc.Title = markdownTitle(doc.Content)
	case ".txt", ".rst", "":
		doc.Content = string(data)
	case ".html", ".htm":
		doc.Title, doc.Content, err = extractHTML(data)
		if err != nil {
			return nil, fmt.Errorf("parse html %s: %w", path, err)
		}
	case ".pdf":
		doc.Content, err = ExtractPDF(data)
		if err != nil {
			return nil, fmt.Errorf("parse pdf %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	if doc.Title == "" {
		base := filepath.Base(path)
		doc.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return doc, nil
}

// ExtractPDF returns the plain text of a PDF. A PDF without a text layer
// yields an empty string.
func ExtractPDF(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// markdownTitle returns the first level-one heading.
func markdownTitle(content string) string {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

// extractHTML returns the <title> and the visible text, one block per line.
func extractHTML(data []byte) (string, string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}

	var title string
	var b strings.Builder
	sep := ""
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "head":
				title = findTitle(n)
				return
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if b.Len() > 0 {
					b.WriteString(sep)
				}
				b.WriteString(text)
				sep = " "
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			sep = "\n\n"
		}
	}
	walk(root)

	content := b.String()
	return title, content, nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "table", "tr", "br", "blockquote":
		return true
	}
	return false
}
