// Package extract turns raw document payloads into plain text for chunking.
// Unsupported or binary payloads extract to empty text rather than an error;
// the ingestion pipeline treats empty text as a failed document.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Extractor converts a raw payload into plain text. A nil error with empty
// text means the payload held no extractable content.
type Extractor interface {
	Extract(r io.Reader, mimeHint string) (string, error)
}

// TextExtractor handles plain-text and HTML payloads. Anything it cannot
// decode as UTF-8 text extracts to the empty string.
type TextExtractor struct{}

var _ Extractor = (*TextExtractor)(nil)

// NewTextExtractor returns a ready-to-use TextExtractor.
func NewTextExtractor() *TextExtractor { return &TextExtractor{} }

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)\b.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe       = regexp.MustCompile(`\n{3,}`)
	spaceRunRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// Extract reads the payload and returns its plain text. HTML payloads are
// stripped to their visible text; non-UTF-8 payloads yield empty text.
func (e *TextExtractor) Extract(r io.Reader, mimeHint string) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("extract: read payload: %w", err)
	}
	if len(raw) == 0 {
		return "", nil
	}
	if !utf8.Valid(raw) {
		return "", nil
	}

	text := string(raw)
	if isHTML(mimeHint, raw) {
		text = stripHTML(text)
	}
	return normalize(text), nil
}

// isHTML reports whether the payload should be treated as HTML, using the
// MIME hint first and falling back to content sniffing.
func isHTML(mimeHint string, raw []byte) bool {
	hint := strings.ToLower(mimeHint)
	if strings.Contains(hint, "html") {
		return true
	}
	if hint != "" && !strings.HasPrefix(hint, "text/") {
		return false
	}
	head := bytes.ToLower(bytes.TrimSpace(raw))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// stripHTML removes script/style blocks and markup tags, then decodes the
// handful of entities that matter for advisory prose.
func stripHTML(s string) string {
	s = scriptStyleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
	return replacer.Replace(s)
}

// normalize collapses whitespace runs while preserving paragraph breaks.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
