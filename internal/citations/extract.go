package citations

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/xurls/v2"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
)

// Citation is one deduplicated URL cited by a response.
type Citation struct {
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Position int    `json:"position"` // 1-based, order of first appearance in the text
}

// ErrRejectedCandidates marks a strict-mode extraction that dropped at least one candidate.
var ErrRejectedCandidates = errors.New("citation candidates rejected")

// ParseError is returned by ExtractStrict. Partial holds every citation that did extract.
type ParseError struct {
	Partial  []Citation
	Rejected []string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %d rejected, %d extracted", e.Err, len(e.Rejected), len(e.Partial))
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	// [label](https://example.com), one level of balanced parentheses allowed in the URL
	inlineLinkRe = regexp.MustCompile(`(?i)\[[^\]]*\]\(\s*(https?://(?:[^\s()]|\([^\s()]*\))+)\s*\)`)
	// "1. https://example.com" or "2) https://example.com"
	referenceLineRe = regexp.MustCompile(`(?im)^[ \t]*\d+[.)][ \t]*(https?://\S+)`)
	// domain-like tokens, with or without scheme
	bareMentionRe = xurls.Relaxed()

	schemeOnlyRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)
)

// candidate is a raw URL string found at a byte offset of the input text.
type candidate struct {
	raw    string
	offset int
}

// Extractor turns free-form response text into citations.
type Extractor struct {
	norm *urlnorm.Normalizer
}

// NewExtractor returns an Extractor normalizing with norm. A nil norm uses the default policy.
func NewExtractor(norm *urlnorm.Normalizer) *Extractor {
	if norm == nil {
		norm = urlnorm.New(urlnorm.Options{})
	}
	return &Extractor{norm: norm}
}

var defaultExtractor = NewExtractor(nil)

// Extract runs the default extractor. It never fails; malformed candidates are skipped.
func Extract(rawText string) []Citation {
	return defaultExtractor.Extract(rawText)
}

// Extract returns the citations found in rawText, deduplicated by canonical URL.
func (x *Extractor) Extract(rawText string) []Citation {
	out, _ := x.extract(rawText)
	return out
}

// ExtractStrict behaves like Extract but returns a *ParseError carrying the partial
// results when any candidate failed normalization.
func (x *Extractor) ExtractStrict(rawText string) ([]Citation, error) {
	out, rejected := x.extract(rawText)
	if len(rejected) > 0 {
		return out, &ParseError{Partial: out, Rejected: rejected, Err: ErrRejectedCandidates}
	}
	return out, nil
}

func (x *Extractor) extract(rawText string) ([]Citation, []string) {
	if strings.TrimSpace(rawText) == "" {
		return []Citation{}, nil
	}

	cands := collectCandidates(rawText)
	out := make([]Citation, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	var rejected []string
	dropped := make(map[string]bool)
	reject := func(raw string) {
		if !dropped[raw] {
			dropped[raw] = true
			rejected = append(rejected, raw)
		}
	}

	for _, c := range cands {
		canonical, err := x.norm.Normalize(c.raw)
		if err != nil {
			reject(c.raw)
			continue
		}
		if seen[canonical] {
			continue
		}
		domain, err := x.norm.DomainOf(canonical)
		if err != nil {
			reject(c.raw)
			continue
		}
		seen[canonical] = true
		out = append(out, Citation{URL: canonical, Domain: domain, Position: len(out) + 1})
	}
	return out, rejected
}

// collectCandidates runs the three passes and returns candidates ordered by
// offset. Candidates at the same offset keep pass order.
func collectCandidates(text string) []candidate {
	var cands []candidate

	for _, m := range inlineLinkRe.FindAllStringSubmatchIndex(text, -1) {
		cands = append(cands, candidate{raw: text[m[2]:m[3]], offset: m[2]})
	}

	for _, m := range referenceLineRe.FindAllStringSubmatchIndex(text, -1) {
		raw := trimTrailingPunct(text[m[2]:m[3]])
		if raw != "" {
			cands = append(cands, candidate{raw: raw, offset: m[2]})
		}
	}

	for _, m := range bareMentionRe.FindAllStringIndex(text, -1) {
		raw := trimTrailingPunct(text[m[0]:m[1]])
		if acceptBareMention(raw) {
			cands = append(cands, candidate{raw: raw, offset: m[0]})
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].offset < cands[j].offset
	})
	return cands
}

// acceptBareMention filters the relaxed matcher down to web citations:
// e-mail addresses and non-http schemes are not citations.
func acceptBareMention(raw string) bool {
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return true
	}
	if strings.Contains(lower, "://") || strings.Contains(lower, "@") {
		return false
	}
	if loc := schemeOnlyRe.FindStringIndex(lower); loc != nil {
		// "host:port" is fine, "mailto:" or "tel:" is not
		if !strings.Contains(lower[:loc[1]-1], ".") {
			return false
		}
		rest := lower[loc[1]:]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		if end == 0 || !isDigits(rest[:end]) {
			return false
		}
	}
	return true
}

// trimTrailingPunct drops sentence punctuation and unbalanced closing brackets.
func trimTrailingPunct(s string) string {
	for {
		before := s
		s = strings.TrimRight(s, ".,;:!?'\"*>")
		if strings.HasSuffix(s, ")") && strings.Count(s, ")") > strings.Count(s, "(") {
			s = s[:len(s)-1]
		}
		if strings.HasSuffix(s, "]") && strings.Count(s, "]") > strings.Count(s, "[") {
			s = s[:len(s)-1]
		}
		if s == before {
			return s
		}
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
