package guard

import (
	"context"
	"fmt"

	"github.com/medsentry/medsentry/internal/safety"
)

// RefusalMessage replaces a response the output guard rejected.
const RefusalMessage = "I'm sorry, but I can't provide that response as it was flagged by our " +
	"safety review. Please consult a qualified healthcare professional for medical advice."

// OutputGuard classifies candidate model responses by delegating to a safety
// evaluator collaborator. Evaluator failures are surfaced as errors, never
// treated as allow or block.
type OutputGuard struct {
	evaluator safety.Evaluator
}

// NewOutputGuard creates an output guard over the given evaluator.
func NewOutputGuard(evaluator safety.Evaluator) (*OutputGuard, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("safety evaluator is required")
	}
	return &OutputGuard{evaluator: evaluator}, nil
}

// Evaluate judges the candidate response in its conversation context.
func (g *OutputGuard) Evaluate(ctx context.Context, candidate, conversationContext string) (Verdict, error) {
	judgment, err := g.evaluator.Judge(ctx, candidate, conversationContext)
	if err != nil {
		return Verdict{}, err
	}
	if judgment.Safe {
		return Allow(), nil
	}
	return Block(judgment.Reason, "safety_eval"), nil
}
