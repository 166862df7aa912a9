package web

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// outlineMarkdown renders the published checklist. Item text is user input:
// raw HTML stays escaped because html.WithUnsafe is never set.
var outlineMarkdown = goldmark.New(
	goldmark.WithExtensions(
		extension.TaskList,
		extension.Strikethrough,
		extension.Linkify,
		emoji.Emoji,
	),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

func renderOutlineHTML(md string) (template.HTML, error) {
	var b bytes.Buffer
	if err := outlineMarkdown.Convert([]byte(md), &b); err != nil {
		return "", fmt.Errorf("render outline: %w", err)
	}
	return template.HTML(b.String()), nil
}
