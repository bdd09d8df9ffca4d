package guard

// Verdict is the result of a guard evaluation. Immutable once produced.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

// Allow returns an allowing verdict.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Block returns a blocking verdict with the reason and the matched rule.
func Block(reason, rule string) Verdict {
	return Verdict{Allowed: false, Reason: reason, Rule: rule}
}
