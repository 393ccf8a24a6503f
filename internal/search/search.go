// Package search answers full-text queries over document titles and content.
//
// The write path lives in the store: every content commit updates the
// doc_fts FTS5 table in the same transaction, so this package only reads.
// FTS5 MATCH produces the candidate set; ranking, snippets, and highlight
// spans are computed here so the scoring rules stay testable in Go.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/docvault/docvault/internal/store"
)

// Filters narrows a search to a slice of the corpus. Zero values match
// everything.
type Filters struct {
	EntityType   string
	EntityID     string
	Category     string
	DocumentType string
}

// Span is a half-open byte range [Start, End) into a Result's Snippet.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Result is one ranked hit.
type Result struct {
	DocumentID int64     `json:"document_id"`
	FilePath   string    `json:"file_path"`
	Title      string    `json:"title"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
	Highlights []Span    `json:"highlights"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Results is one page of hits plus the size of the full match set.
// Truncated means a soft deadline expired before every candidate was
// scored; the hits present are still correctly ranked among themselves.
type Results struct {
	Hits       []Result `json:"hits"`
	TotalCount int      `json:"total_count"`
	Truncated  bool     `json:"truncated"`
}

// snippetWidth bounds the context window around the best match.
const snippetWidth = 200

// titleBoost is the score weight of one title occurrence relative to one
// body occurrence. A single title hit must outrank a single body hit.
const titleBoost = 5.0

// Index runs read-only queries against the store's FTS table.
type Index struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

// New creates a search index reader over the store's database. If logger is
// nil, a default logger writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Index {
	if logger == nil {
		logger = log.New(os.Stderr, "[search] ", log.LstdFlags)
	}
	return &Index{db: st.RawDB(), logger: logger, now: time.Now}
}

// SetClock overrides the index's time source for tests.
func (ix *Index) SetClock(now func() time.Time) {
	if now != nil {
		ix.now = now
	}
}

type candidate struct {
	id        int64
	filePath  string
	title     string
	content   string
	updatedAt time.Time
	score     float64
}

// Search parses raw, retrieves FTS candidates, ranks them, and returns the
// page [offset, offset+limit) with snippets and highlight spans.
//
// Ranking blends term frequency with a title boost; ties break by recency
// (newer content first) and then by id for determinism. A context deadline
// is honored between candidates: expiry returns the hits ranked so far with
// Truncated set instead of an error.
func (ix *Index) Search(ctx context.Context, raw string, f Filters, limit, offset int) (*Results, error) {
	q, err := ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	if q.IsEmpty() {
		return &Results{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	cands, truncated, err := ix.candidates(ctx, q, f)
	if err != nil {
		return nil, err
	}

	sortCandidates(cands)

	res := &Results{TotalCount: len(cands), Truncated: truncated}
	if offset >= len(cands) {
		return res, nil
	}
	page := cands[offset:]
	if len(page) > limit {
		page = page[:limit]
	}

	needles := q.needles()
	for _, c := range page {
		snippet, spans := buildSnippet(c.content, needles)
		res.Hits = append(res.Hits, Result{
			DocumentID: c.id,
			FilePath:   c.filePath,
			Title:      c.title,
			Score:      c.score,
			Snippet:    snippet,
			Highlights: spans,
			UpdatedAt:  c.updatedAt,
		})
	}
	return res, nil
}

// candidates runs the FTS MATCH plus filters and scores every row. The
// deadline check sits between rows so a slow corpus degrades to a truncated
// result set rather than a hang.
func (ix *Index) candidates(ctx context.Context, q *Query, f Filters) ([]*candidate, bool, error) {
	query := `
	SELECT d.id, d.file_path, d.title, d.content, d.updated_at
	FROM doc_fts
	JOIN document_references d ON d.id = doc_fts.doc_id
	WHERE doc_fts MATCH ? AND d.content IS NOT NULL`
	args := []any{q.ftsExpr()}

	if f.EntityType != "" {
		query += " AND d.entity_type = ?"
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		query += " AND d.entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.Category != "" {
		query += " AND d.category = ?"
		args = append(args, f.Category)
	}
	if f.DocumentType != "" {
		query += " AND d.document_type = ?"
		args = append(args, f.DocumentType)
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query search index: %w", err)
	}
	defer rows.Close()

	var cands []*candidate
	truncated := false
	for rows.Next() {
		if ctx.Err() != nil {
			truncated = true
			ix.logger.Printf("WARNING: search cancelled after %d candidates", len(cands))
			break
		}
		if deadline, ok := ctx.Deadline(); ok && ix.now().After(deadline) {
			truncated = true
			ix.logger.Printf("WARNING: search deadline expired after %d candidates", len(cands))
			break
		}

		var c candidate
		var updatedAt string
		if err := rows.Scan(&c.id, &c.filePath, &c.title, &c.content, &updatedAt); err != nil {
			return nil, false, fmt.Errorf("failed to scan search candidate: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			c.updatedAt = t
		}
		c.score = score(q, c.title, c.content)
		if c.score > 0 {
			cands = append(cands, &c)
		}
	}
	if !truncated {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("failed to read search candidates: %w", err)
		}
	}
	return cands, truncated, nil
}

// score is the ranking function: per needle, body occurrences count 1 each
// and title occurrences count titleBoost each.
func score(q *Query, title, content string) float64 {
	lowTitle := strings.ToLower(title)
	lowContent := strings.ToLower(content)

	var s float64
	for _, n := range q.needles() {
		s += float64(strings.Count(lowContent, n))
		s += titleBoost * float64(strings.Count(lowTitle, n))
	}
	return s
}

func sortCandidates(cands []*candidate) {
	// Insertion sort keeps the comparator readable; candidate sets are
	// already bounded by the MATCH.
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && ranksAbove(cands[j], cands[j-1]); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

func ranksAbove(a, b *candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.updatedAt.Equal(b.updatedAt) {
		return a.updatedAt.After(b.updatedAt)
	}
	return a.id < b.id
}

// buildSnippet extracts a window of at most snippetWidth bytes centered on
// the first occurrence of the highest-priority needle, then records the byte
// spans of every needle occurrence inside the window. Boundaries snap to
// whitespace so words are not cut mid-way.
//
// All offsets are computed against content itself. Lowercasing a copy and
// indexing into it would misalign for runes whose lower form has a different
// byte length (U+212A shrinks, U+0130 can grow), so matching is fold-aware
// instead.
func buildSnippet(content string, needles []string) (string, []Span) {
	best := -1
	for _, n := range needles {
		if pos, _ := indexFold(content, n); pos >= 0 {
			best = pos
			break
		}
	}
	if best < 0 {
		// Title-only hit: fall back to the document head.
		best = 0
	}

	start := best - snippetWidth/2
	if start < 0 {
		start = 0
	}
	end := start + snippetWidth
	if end > len(content) {
		end = len(content)
		if start = end - snippetWidth; start < 0 {
			start = 0
		}
	}
	for start < len(content) && !utf8.RuneStart(content[start]) {
		start++
	}
	for end > start && end < len(content) && !utf8.RuneStart(content[end]) {
		end--
	}

	// Snap outward-facing edges to word boundaries.
	if start > 0 {
		if i := strings.IndexAny(content[start:end], " \t\n"); i >= 0 && start+i < best {
			start += i + 1
		}
	}
	if end < len(content) {
		if i := strings.LastIndexAny(content[start:end], " \t\n"); i >= 0 && start+i > best {
			end = start + i
		}
	}

	snippet := content[start:end]

	var spans []Span
	for _, n := range needles {
		from := 0
		for from < len(snippet) {
			i, matched := indexFold(snippet[from:], n)
			if i < 0 {
				break
			}
			spans = append(spans, Span{Start: from + i, End: from + i + matched})
			from += i + matched
		}
	}
	return snippet, spans
}

// indexFold locates the first case-insensitive occurrence of needle in s.
// It returns the byte offset of the match in s and the byte length the match
// occupies there, which can differ from len(needle), or (-1, 0).
func indexFold(s, needle string) (pos, matchLen int) {
	if needle == "" {
		return -1, 0
	}
	for i := 0; i < len(s); {
		if n := foldPrefixLen(s[i:], needle); n >= 0 {
			return i, n
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, 0
}

// foldPrefixLen reports how many bytes at the start of s case-fold to
// needle, or -1 when s does not start with it.
func foldPrefixLen(s, needle string) int {
	var consumed int
	for len(needle) > 0 {
		if consumed >= len(s) {
			return -1
		}
		rn, nsz := utf8.DecodeRuneInString(needle)
		rs, ssz := utf8.DecodeRuneInString(s[consumed:])
		if unicode.ToLower(rs) != unicode.ToLower(rn) {
			return -1
		}
		consumed += ssz
		needle = needle[nsz:]
	}
	return consumed
}
