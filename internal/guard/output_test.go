package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/medsentry/medsentry/internal/safety"
)

type fakeEvaluator struct {
	judgment safety.Judgment
	err      error
}

func (f *fakeEvaluator) Judge(ctx context.Context, candidate, conversationContext string) (safety.Judgment, error) {
	return f.judgment, f.err
}

func TestOutputGuardAllowsSafeResponse(t *testing.T) {
	g, err := NewOutputGuard(&fakeEvaluator{judgment: safety.Judgment{Safe: true}})
	if err != nil {
		t.Fatalf("NewOutputGuard error: %v", err)
	}

	verdict, err := g.Evaluate(context.Background(), "General health education.", "")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !verdict.Allowed {
		t.Errorf("expected allow, got block: %q", verdict.Reason)
	}
}

func TestOutputGuardBlocksUnsafeResponse(t *testing.T) {
	g, err := NewOutputGuard(&fakeEvaluator{
		judgment: safety.Judgment{Safe: false, Reason: "specific dosage without a source"},
	})
	if err != nil {
		t.Fatalf("NewOutputGuard error: %v", err)
	}

	verdict, err := g.Evaluate(context.Background(), "Take 500mg of X every hour", "")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if verdict.Allowed {
		t.Fatal("expected block for unsafe response")
	}
	if verdict.Reason != "specific dosage without a source" {
		t.Errorf("unexpected reason: %q", verdict.Reason)
	}
	if verdict.Rule != "safety_eval" {
		t.Errorf("unexpected rule: %q", verdict.Rule)
	}
}

func TestOutputGuardSurfacesEvaluatorFailure(t *testing.T) {
	wantErr := errors.New("evaluator timeout")
	g, err := NewOutputGuard(&fakeEvaluator{err: wantErr})
	if err != nil {
		t.Fatalf("NewOutputGuard error: %v", err)
	}

	verdict, err := g.Evaluate(context.Background(), "anything", "")
	if err == nil {
		t.Fatal("expected error from failing evaluator")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped evaluator error, got %v", err)
	}
	if verdict.Allowed {
		t.Error("failure must not produce an allowing verdict")
	}
}

func TestOutputGuardRequiresEvaluator(t *testing.T) {
	if _, err := NewOutputGuard(nil); err == nil {
		t.Fatal("expected error for nil evaluator")
	}
}
