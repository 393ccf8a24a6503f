// Package mdmeta extracts document metadata from markdown content.
//
// Two sources are supported: a YAML front matter block delimited by ---
// lines at the top of the file, and the first level-1 heading in the
// markdown body. Migration and document creation use these to fill in
// title and tags for legacy files that carry no database metadata.
package mdmeta

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// FrontMatter holds the recognized front matter fields. Unknown keys are
// collected into Extra.
type FrontMatter struct {
	Title    string         `yaml:"title"`
	Category string         `yaml:"category"`
	Type     string         `yaml:"type"`
	Tags     []string       `yaml:"tags"`
	Extra    map[string]any `yaml:",inline"`
}

// ParseFrontMatter splits content into its YAML front matter and the
// remaining body. Content without a front matter block returns a nil
// FrontMatter and the input unchanged. A malformed block is an error so
// callers never silently drop metadata.
func ParseFrontMatter(content string) (*FrontMatter, string, error) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return nil, content, nil
	}

	rest := strings.TrimPrefix(content, "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, content, fmt.Errorf("front matter block is not terminated")
	}
	block := rest[:idx]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, content, fmt.Errorf("invalid front matter: %w", err)
	}

	return &fm, body, nil
}

var md = goldmark.New()

// ExtractTitle returns the text of the first level-1 heading in content.
// Returns empty when the document has no level-1 heading.
func ExtractTitle(content string) string {
	src := []byte(content)
	doc := md.Parser().Parse(text.NewReader(src))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		title = headingText(h, src)
		return ast.WalkStop, nil
	})

	return strings.TrimSpace(title)
}

// headingText collects the raw text of a heading's inline children.
func headingText(h *ast.Heading, src []byte) string {
	var sb strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
			continue
		}
		// Emphasis, code spans and links nest their text one level down.
		_ = ast.Walk(c, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if t, ok := n.(*ast.Text); ok && entering {
				sb.Write(t.Segment.Value(src))
			}
			return ast.WalkContinue, nil
		})
	}
	return sb.String()
}
