package safety

import "testing"

func TestParseJudgmentSafe(t *testing.T) {
	j := parseJudgment(`{"safe": true, "reason": "general education"}`)
	if !j.Safe {
		t.Error("expected safe judgment")
	}
	if j.Reason != "general education" {
		t.Errorf("unexpected reason: %q", j.Reason)
	}
}

func TestParseJudgmentUnsafe(t *testing.T) {
	j := parseJudgment(`{"safe": false, "reason": "dosage advice"}`)
	if j.Safe {
		t.Error("expected unsafe judgment")
	}
	if j.Reason != "dosage advice" {
		t.Errorf("unexpected reason: %q", j.Reason)
	}
}

func TestParseJudgmentUnparseableFailsClosed(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`{"reason": "missing safe field"}`,
		"",
		`{"safe": "yes"}`,
	} {
		j := parseJudgment(raw)
		if j.Safe {
			t.Errorf("unparseable verdict %q must fail closed", raw)
		}
		if j.Reason == "" {
			t.Errorf("expected precautionary reason for %q", raw)
		}
	}
}

func TestNewModelEvaluatorRequiresModel(t *testing.T) {
	if _, err := NewModelEvaluator(nil); err == nil {
		t.Fatal("expected error for nil model")
	}
}
