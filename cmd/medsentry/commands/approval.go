package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/turn"
	"github.com/spf13/cobra"
)

func NewApprovalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approval",
		Short: "Manage approval requests",
	}

	cmd.AddCommand(
		newApprovalListCmd(),
		newApprovalApproveCmd(),
		newApprovalRejectCmd(),
	)

	return cmd
}

func newApprovalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE:  runApprovalList,
	}
}

func newApprovalApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a request and resume its turn",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalApprove,
	}
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("note", "", "Decision note")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newApprovalRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a request and resume its turn",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalReject,
	}
	cmd.Flags().String("by", "", "Decision maker")
	cmd.Flags().String("note", "", "Decision note")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func runApprovalList(cmd *cobra.Command, args []string) error {
	svc, err := loadApprovalService()
	if err != nil {
		return err
	}

	requests, err := svc.List(approval.Query{Status: approval.StatusPending})
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	for _, req := range requests {
		fmt.Printf("%s %s turn=%s %s\n", req.ID, req.ToolName, req.TurnID, req.Status)
	}
	return nil
}

func runApprovalApprove(cmd *cobra.Command, args []string) error {
	return runApprovalDecision(cmd, args[0], true)
}

func runApprovalReject(cmd *cobra.Command, args []string) error {
	return runApprovalDecision(cmd, args[0], false)
}

func runApprovalDecision(cmd *cobra.Command, id string, approve bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	by, _ := cmd.Flags().GetString("by")
	note, _ := cmd.Flags().GetString("note")
	if strings.TrimSpace(by) == "" {
		return fmt.Errorf("--by is required")
	}

	decision := approval.DecisionInput{
		DecidedBy: strings.TrimSpace(by),
		Note:      strings.TrimSpace(note),
	}
	verb := "rejected"
	if approve {
		verb = "approved"
	}

	// With a model configured the turn resumes in-process; without one the
	// decision is recorded and the turn resumes on the next server run.
	if p, buildErr := buildPipeline(cmd.Context(), cfg); buildErr == nil {
		t, err := p.orchestrator.Resolve(cmd.Context(), id, approve, decision)
		if err != nil {
			return err
		}
		fmt.Printf("Approval %s %s.\n", id, verb)
		printTurnResult(t)
		return nil
	}

	svc, err := loadApprovalService()
	if err != nil {
		return err
	}
	if approve {
		_, err = svc.Approve(id, decision)
	} else {
		_, err = svc.Reject(id, decision)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Approval %s %s. No model configured; the turn resumes on the next server run.\n", id, verb)
	return nil
}

func loadApprovalService() (*approval.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}
	ttl := time.Duration(cfg.Approvals.TTLMinutes) * time.Minute
	return approval.NewService(workspacePath, ttl), nil
}

// suspendedTurns lists turns parked in AwaitingApproval, used by status.
func suspendedTurns(workspacePath string) ([]*turn.Turn, error) {
	return turn.NewStore(workspacePath).ListSuspended()
}
