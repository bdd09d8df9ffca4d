package guard

import (
	"fmt"
	"regexp"
	"strings"
)

// InputGuard classifies raw user text before it reaches the model.
// Deterministic and side-effect free.
type InputGuard struct {
	blocklist []*regexp.Regexp
	topics    []string
}

// NewInputGuard compiles the blocklist patterns (case-insensitive) and
// normalizes the topic vocabulary. Invalid patterns are rejected up front so
// a misconfigured guard never silently allows.
func NewInputGuard(blocklist, topics []string) (*InputGuard, error) {
	compiled := make([]*regexp.Regexp, 0, len(blocklist))
	for _, raw := range blocklist {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile blocklist pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}

	normalized := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic == "" {
			continue
		}
		normalized = append(normalized, topic)
	}

	return &InputGuard{blocklist: compiled, topics: normalized}, nil
}

// Evaluate runs the blocklist check, then the topic-scope check. Blocklist is
// evaluated first so injection attempts are reported as such even when the
// text is also off-topic. First blocklist match wins.
func (g *InputGuard) Evaluate(userText string) Verdict {
	for _, re := range g.blocklist {
		if match := re.FindString(userText); match != "" {
			return Block(
				fmt.Sprintf("blocklist match: %s", strings.ToLower(match)),
				re.String(),
			)
		}
	}

	lower := strings.ToLower(userText)
	for _, topic := range g.topics {
		if strings.Contains(lower, topic) {
			return Allow()
		}
	}

	return Block("out of scope", "topic_scope")
}
