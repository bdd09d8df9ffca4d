package approval

import "strings"

// Sensitivity is the classification of a tool call.
type Sensitivity string

const (
	Sensitive Sensitivity = "sensitive"
	Ordinary  Sensitivity = "ordinary"
)

// Classifier maps tool names to sensitivity using a static deny set.
// Deterministic and side-effect free; independent of which tools exist.
type Classifier struct {
	sensitive map[string]struct{}
}

// NewClassifier builds a classifier from the configured sensitive tool names.
func NewClassifier(sensitiveTools []string) Classifier {
	sensitive := make(map[string]struct{}, len(sensitiveTools))
	for _, name := range sensitiveTools {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		sensitive[normalized] = struct{}{}
	}
	return Classifier{sensitive: sensitive}
}

// Classify returns the sensitivity of the named tool.
func (c Classifier) Classify(toolName string) Sensitivity {
	if _, ok := c.sensitive[strings.ToLower(strings.TrimSpace(toolName))]; ok {
		return Sensitive
	}
	return Ordinary
}
