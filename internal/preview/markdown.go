// Package preview renders parsed markdown for in-browser review.
package preview

import (
	"bytes"
	"fmt"
	stdhtml "html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithXHTML(),
	),
)

// HTML converts parse markdown, including GFM tables, into an HTML fragment.
// Raw HTML in the source is not passed through.
func HTML(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Page wraps a rendered fragment in a minimal standalone document.
func Page(title string, fragment []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	buf.WriteString(stdhtml.EscapeString(title))
	buf.WriteString("</title><style>table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:2px 6px}</style></head><body>\n")
	buf.Write(fragment)
	buf.WriteString("</body></html>\n")
	return buf.Bytes()
}
