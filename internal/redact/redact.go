package redact

import (
	"regexp"
	"sort"
	"strings"
)

// Rule is one PII pattern class with its detection pattern and mask token.
// Masks are chosen so that no mask re-matches any detection pattern, which
// keeps redaction idempotent.
type Rule struct {
	Class   string
	Pattern *regexp.Regexp
	Mask    string
}

// Match records one redacted span of the original text.
type Match struct {
	Class string `json:"class"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

var defaultRules = []Rule{
	{
		Class:   "ssn",
		Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Mask:    "[SSN REDACTED]",
	},
	{
		Class:   "email",
		Pattern: regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`),
		Mask:    "[EMAIL REDACTED]",
	},
	{
		Class:   "phone",
		Pattern: regexp.MustCompile(`(\+?1[-.\s]?)?(\(?\d{3}\)?[-.\s]?)(\d{3}[-.\s]?\d{4})\b`),
		Mask:    "[PHONE REDACTED]",
	},
}

// Redactor masks PII spans in text. It is pure and safe for concurrent use.
type Redactor struct {
	rules []Rule
}

// NewRedactor creates a redactor with the default email/SSN/phone rules.
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules}
}

// NewRedactorWithRules creates a redactor with custom rules.
func NewRedactorWithRules(rules []Rule) *Redactor {
	return &Redactor{rules: append([]Rule(nil), rules...)}
}

// Redact replaces every PII span with its rule's mask token and returns the
// redacted text with the list of masked spans. Each rule is matched
// independently; overlapping spans are resolved earliest-start-wins, then
// longest-match-wins. Running Redact on its own output yields identical text
// and no matches.
func (r *Redactor) Redact(text string) (string, []Match) {
	type span struct {
		start, end int
		rule       *Rule
	}

	var spans []span
	for i := range r.rules {
		rule := &r.rules[i]
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], rule: rule})
		}
	}
	if len(spans) == 0 {
		return text, nil
	}

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var (
		b       strings.Builder
		matches []Match
		cursor  int
	)
	for _, s := range spans {
		if s.start < cursor {
			continue // overlapped by an earlier-starting or longer span
		}
		b.WriteString(text[cursor:s.start])
		b.WriteString(s.rule.Mask)
		matches = append(matches, Match{
			Class: s.rule.Class,
			Start: s.start,
			End:   s.end,
			Text:  text[s.start:s.end],
		})
		cursor = s.end
	}
	b.WriteString(text[cursor:])
	return b.String(), matches
}
