package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/metrics"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show MedSentry configuration status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return fmt.Errorf("invalid workspace: %w", err)
	}

	fmt.Println("=== MedSentry Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (run 'medsentry init')")
	}

	fmt.Printf("\nWorkspace: %s\n", workspacePath)
	if _, err := os.Stat(workspacePath); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found")
	}
	workspaceMode := strings.TrimSpace(cfg.Turns.WorkspaceMode)
	if workspaceMode == "" {
		workspaceMode = "default"
	}
	fmt.Printf("  Mode: %s\n", workspaceMode)

	fmt.Printf("\nModel: %s\n", cfg.Turns.Model)

	fmt.Println("\nProviders:")
	providers := map[string]string{
		"OpenRouter": cfg.Providers.OpenRouter.APIKey,
		"Claude":     cfg.Providers.Claude.APIKey,
		"OpenAI":     cfg.Providers.OpenAI.APIKey,
		"DeepSeek":   cfg.Providers.DeepSeek.APIKey,
		"Ollama":     cfg.Providers.Ollama.BaseURL,
	}
	for name, key := range providers {
		status := "Not configured"
		if key != "" {
			status = "Configured"
		}
		fmt.Printf("  %s: %s\n", name, status)
	}

	fmt.Println("\nGuards:")
	fmt.Printf("  Input blocklist: %d patterns\n", len(cfg.Guards.Input.Blocklist))
	fmt.Printf("  Topic scope: %d keywords\n", len(cfg.Guards.Input.Topics))
	outputStatus := "disabled"
	if cfg.Guards.Output.Enabled {
		outputStatus = "enabled (model safety evaluation)"
	}
	fmt.Printf("  Output guard: %s\n", outputStatus)
	redactionStatus := "disabled"
	if cfg.Redaction.Enabled {
		redactionStatus = "enabled (emails, phones, SSNs)"
	}
	fmt.Printf("  PII redaction: %s\n", redactionStatus)

	fmt.Println("\nApprovals:")
	fmt.Printf("  Sensitive tools: %s\n", strings.Join(cfg.Approvals.SensitiveTools, ", "))
	if cfg.Approvals.TTLMinutes > 0 {
		fmt.Printf("  TTL: %d minutes\n", cfg.Approvals.TTLMinutes)
	} else {
		fmt.Println("  TTL: none (wait indefinitely)")
	}
	svc, err := loadApprovalService()
	if err == nil {
		if pending, err := svc.List(approval.Query{Status: approval.StatusPending}); err == nil {
			fmt.Printf("  Pending: %d\n", len(pending))
		}
	}

	fmt.Println("\nTurns:")
	if suspended, err := suspendedTurns(workspacePath); err == nil {
		fmt.Printf("  Awaiting approval: %d\n", len(suspended))
		for _, t := range suspended {
			fmt.Printf("    - %s (since %s)\n", t.ID, t.Suspension.SuspendedAt.Format("2006-01-02 15:04"))
		}
	}

	fmt.Println("\nNotifications:")
	telegramStatus := "disabled"
	if cfg.Notify.Telegram.Enabled {
		telegramStatus = "enabled"
		if strings.TrimSpace(cfg.Notify.Telegram.Token) == "" {
			telegramStatus = "enabled (missing token)"
		}
	}
	fmt.Printf("  Telegram: %s\n", telegramStatus)

	fmt.Println("\nGateway:")
	fmt.Printf("  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Println("  Auth:    token configured")
	} else {
		fmt.Println("  Auth:    no token (open)")
	}

	fmt.Println("\nMetrics:")
	snapshot, err := metrics.ReadRuntimeSnapshot(workspacePath)
	if err != nil || !snapshot.HasData() {
		fmt.Println("  No data yet")
		return nil
	}
	fmt.Printf("  Turns: %d started, %d completed, %d blocked, %d rejected, %d failed\n",
		snapshot.Turn.Started, snapshot.Turn.Completed, snapshot.Turn.Blocked,
		snapshot.Turn.Rejected, snapshot.Turn.Failed)
	fmt.Printf("  Block ratio: %.1f%%\n", snapshot.Turn.BlockRatio()*100)
	fmt.Printf("  Guard blocks: %d input, %d output\n", snapshot.Guard.InputBlocks, snapshot.Guard.OutputBlocks)
	fmt.Printf("  Redactions: %d\n", snapshot.Guard.Redactions)
	if snapshot.Approval.Requested > 0 {
		fmt.Printf("  Approvals: %d requested, %d approved, %d rejected, %d expired\n",
			snapshot.Approval.Requested, snapshot.Approval.Approved,
			snapshot.Approval.Rejected, snapshot.Approval.Expired)
	}
	if snapshot.Tool.Total > 0 {
		fmt.Printf("  Tool calls: %d (avg %.0fms, p95 ~%dms, error ratio %.1f%%)\n",
			snapshot.Tool.Total, snapshot.Tool.AvgLatencyMs(),
			snapshot.Tool.P95ProxyLatencyMs, snapshot.Tool.ErrorRatio()*100)
	}

	return nil
}
