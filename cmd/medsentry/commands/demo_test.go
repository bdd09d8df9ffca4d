package commands

import (
	"context"
	"strings"
	"testing"
)

func TestDemoCommand_RunsAllScenarios(t *testing.T) {
	cmd := NewDemoCmd()
	cmd.SetContext(context.Background())

	output := captureOutput(t, func() {
		if err := runDemo(cmd, nil); err != nil {
			t.Errorf("runDemo error: %v", err)
		}
	})

	for _, want := range []string{
		"Scenario 1", "Scenario 2", "Scenario 3", "Scenario 4", "Scenario 5",
		"All scenarios complete",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in demo output", want)
		}
	}

	// Scenario 4 approves the email and the pipeline finishes the turn.
	if !strings.Contains(output, "decision='approve'") {
		t.Errorf("expected approval trace in demo output")
	}
	// Scenario 3 shows the refusal, not the unsafe dosing advice, as the reply.
	if !strings.Contains(output, "Response:") {
		t.Errorf("expected response lines in demo output")
	}
}

func TestDemoEvaluator_FlagsDangerousDosing(t *testing.T) {
	judgment, err := demoEvaluator{}.Judge(context.Background(),
		"Take oxycodone 30mg every 4 hours without seeing a doctor.", "")
	if err != nil {
		t.Fatalf("Judge error: %v", err)
	}
	if judgment.Safe {
		t.Fatal("expected unsafe judgment for dosing advice")
	}

	judgment, err = demoEvaluator{}.Judge(context.Background(),
		"Please consult your physician about persistent headaches.", "")
	if err != nil {
		t.Fatalf("Judge error: %v", err)
	}
	if !judgment.Safe {
		t.Fatalf("expected safe judgment, got reason %q", judgment.Reason)
	}
}
