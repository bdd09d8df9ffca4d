package commands

import (
	"strings"
	"testing"
)

func TestVersionCommand_PrintsVersion(t *testing.T) {
	cmd := NewVersionCmd()

	output := captureOutput(t, func() {
		cmd.Run(cmd, nil)
	})
	if !strings.Contains(output, "medsentry") {
		t.Errorf("expected binary name in output, got: %s", output)
	}
}
