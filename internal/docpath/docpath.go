// Package docpath validates document file paths against the canonical
// docs/{category}/{document_type}/{filename} layout.
//
// A small set of paths is exempt from the structural rule: well-known
// repo-root markdown files, any root-level markdown file, package-root
// README.md files, and anything under testing/ or tests/. Exemptions are
// checked as an ordered list of matchers before the strict parse runs.
// Exception-path documents default to file-only storage; whether they may
// also run hybrid is an open product decision.
package docpath

import (
	"fmt"
	"path"
	"strings"
)

// Categories is the closed set of valid category segments.
var Categories = []string{
	"planning",
	"architecture",
	"guides",
	"reference",
	"operations",
	"communication",
	"governance",
	"testing",
}

// ValidationError reports a path that violates the structural rule.
// SuggestedPath, when non-empty, is a corrected path the caller can offer.
type ValidationError struct {
	Path          string
	Reason        string
	SuggestedPath string
}

func (e *ValidationError) Error() string {
	if e.SuggestedPath != "" {
		return fmt.Sprintf("invalid document path %q: %s (did you mean %q?)", e.Path, e.Reason, e.SuggestedPath)
	}
	return fmt.Sprintf("invalid document path %q: %s", e.Path, e.Reason)
}

// Info is the parsed form of a document path.
type Info struct {
	// Category is the category segment for canonical paths, empty for
	// exception paths.
	Category string
	// DocumentType is the document_type segment for canonical paths.
	DocumentType string
	// Filename is the final path element.
	Filename string
	// Exception is true when the path matched an exemption instead of the
	// canonical layout.
	Exception bool
	// ExceptionRule names the matcher that exempted the path.
	ExceptionRule string
}

// matcher is one exemption rule. Rules are evaluated in order; the first
// match wins.
type matcher struct {
	name  string
	match func(clean string) bool
}

// wellKnownRoot lists the repo-root markdown basenames that are always
// exempt regardless of extension casing conventions.
var wellKnownRoot = map[string]bool{
	"README.md":          true,
	"CHANGELOG.md":       true,
	"LICENSE.md":         true,
	"CONTRIBUTING.md":    true,
	"CODE_OF_CONDUCT.md": true,
	"SECURITY.md":        true,
}

var exceptionMatchers = []matcher{
	{
		name: "repo-root-wellknown",
		match: func(clean string) bool {
			return !strings.Contains(clean, "/") && wellKnownRoot[clean]
		},
	},
	{
		name: "root-markdown",
		match: func(clean string) bool {
			return !strings.Contains(clean, "/") && strings.HasSuffix(clean, ".md")
		},
	},
	{
		name: "package-readme",
		match: func(clean string) bool {
			return strings.Contains(clean, "/") && path.Base(clean) == "README.md"
		},
	},
	{
		name: "testing-tree",
		match: func(clean string) bool {
			return strings.HasPrefix(clean, "testing/") || strings.HasPrefix(clean, "tests/") ||
				strings.Contains(clean, "/testing/") || strings.Contains(clean, "/tests/")
		},
	},
}

// IsException reports whether the path matches one of the exemption rules,
// returning the rule name when it does.
func IsException(p string) (string, bool) {
	clean := path.Clean(strings.TrimPrefix(p, "./"))
	for _, m := range exceptionMatchers {
		if m.match(clean) {
			return m.name, true
		}
	}
	return "", false
}

// Parse validates p and returns its parsed form.
//
// Exception paths parse successfully with Exception set and no category.
// Canonical paths must have exactly the docs/{category}/{type}/{filename}
// shape with a known category.
func Parse(p string) (*Info, error) {
	if p == "" {
		return nil, &ValidationError{Path: p, Reason: "path is empty"}
	}
	clean := path.Clean(strings.TrimPrefix(p, "./"))
	if strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return nil, &ValidationError{Path: p, Reason: "path must be relative to the repository root"}
	}

	if rule, ok := IsException(clean); ok {
		return &Info{
			Filename:      path.Base(clean),
			Exception:     true,
			ExceptionRule: rule,
		}, nil
	}

	parts := strings.Split(clean, "/")
	if parts[0] != "docs" {
		return nil, &ValidationError{
			Path:          p,
			Reason:        "document paths must live under docs/",
			SuggestedPath: suggest(clean, ""),
		}
	}
	if len(parts) != 4 {
		return nil, &ValidationError{
			Path:          p,
			Reason:        "expected docs/{category}/{document_type}/{filename}",
			SuggestedPath: suggest(clean, ""),
		}
	}

	category, docType, filename := parts[1], parts[2], parts[3]
	if !ValidCategory(category) {
		return nil, &ValidationError{
			Path:          p,
			Reason:        fmt.Sprintf("unknown category %q", category),
			SuggestedPath: suggest(clean, nearestCategory(category)),
		}
	}
	if docType == "" || filename == "" {
		return nil, &ValidationError{Path: p, Reason: "document_type and filename must be non-empty"}
	}

	return &Info{
		Category:     category,
		DocumentType: docType,
		Filename:     filename,
	}, nil
}

// Validate checks that p is structurally valid and, for canonical paths,
// that its category segment matches category. Exception paths ignore the
// category argument.
func Validate(p, category string) error {
	info, err := Parse(p)
	if err != nil {
		return err
	}
	if info.Exception {
		return nil
	}
	if category != "" && info.Category != category {
		return &ValidationError{
			Path:          p,
			Reason:        fmt.Sprintf("category %q does not match path segment %q", category, info.Category),
			SuggestedPath: fmt.Sprintf("docs/%s/%s/%s", category, info.DocumentType, info.Filename),
		}
	}
	return nil
}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// suggest builds a corrected path for a malformed one. The filename is
// always preserved; missing segments are filled with placeholders so the
// caller can see the expected shape.
func suggest(clean, category string) string {
	base := path.Base(clean)
	if category == "" {
		category = "reference"
	}
	docType := "general"
	// Reuse an existing docs/{category}/{type} prefix when present.
	parts := strings.Split(clean, "/")
	if len(parts) >= 3 && parts[0] == "docs" {
		if parts[2] != base {
			docType = parts[2]
		}
	}
	return fmt.Sprintf("docs/%s/%s/%s", category, docType, base)
}

// nearestCategory picks the closest known category for a typo'd segment.
// Matching is a simple prefix/containment heuristic; falling back to
// "reference" keeps the suggestion deterministic.
func nearestCategory(got string) string {
	lower := strings.ToLower(got)
	for _, known := range Categories {
		if strings.HasPrefix(known, lower) || strings.HasPrefix(lower, known) {
			return known
		}
	}
	for _, known := range Categories {
		if strings.Contains(known, lower) || strings.Contains(lower, known) {
			return known
		}
	}
	return "reference"
}
