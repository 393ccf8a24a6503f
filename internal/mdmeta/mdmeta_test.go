package mdmeta

import "testing"

func TestParseFrontMatter(t *testing.T) {
	content := "---\ntitle: Deployment Guide\ncategory: operations\ntags:\n  - deploy\n  - runbook\n---\n# Body\n\nSteps."

	fm, body, err := ParseFrontMatter(content)
	if err != nil {
		t.Fatalf("ParseFrontMatter failed: %v", err)
	}
	if fm == nil {
		t.Fatal("expected front matter")
	}
	if fm.Title != "Deployment Guide" {
		t.Errorf("title = %q", fm.Title)
	}
	if fm.Category != "operations" {
		t.Errorf("category = %q", fm.Category)
	}
	if len(fm.Tags) != 2 || fm.Tags[0] != "deploy" || fm.Tags[1] != "runbook" {
		t.Errorf("tags = %v", fm.Tags)
	}
	if body != "# Body\n\nSteps." {
		t.Errorf("body = %q", body)
	}
}

func TestParseFrontMatterAbsent(t *testing.T) {
	content := "# Just markdown\n\nNo metadata."
	fm, body, err := ParseFrontMatter(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm != nil {
		t.Errorf("expected nil front matter, got %+v", fm)
	}
	if body != content {
		t.Errorf("body modified: %q", body)
	}
}

func TestParseFrontMatterUnterminated(t *testing.T) {
	if _, _, err := ParseFrontMatter("---\ntitle: broken\n"); err == nil {
		t.Error("expected error for unterminated block")
	}
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"# Spec\n\nDetails.", "Spec"},
		{"intro text\n\n# Real Title\n\nbody", "Real Title"},
		{"# Title with `code` and *emphasis*\n", "Title with code and emphasis"},
		{"## Only a subheading\n", ""},
		{"plain text, no headings", ""},
	}

	for _, tc := range cases {
		if got := ExtractTitle(tc.content); got != tc.want {
			t.Errorf("ExtractTitle(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}
