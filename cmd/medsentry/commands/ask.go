package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/turn"
	"github.com/spf13/cobra"
)

func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Run one message through the guard pipeline",
		Long:  `Submits a single user message as a turn. When a sensitive tool call suspends the turn, prompts for approval on stdin and resumes with the decision.`,
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().Bool("yes", false, "Approve sensitive tool calls without prompting")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	autoApprove, _ := cmd.Flags().GetBool("yes")
	message := strings.Join(args, " ")

	t, err := p.orchestrator.SubmitMessage(ctx, "", message)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	for t.Phase == turn.PhaseAwaitingApproval {
		t, err = resolvePending(ctx, p, t, reader, autoApprove)
		if err != nil {
			return err
		}
	}

	printTurnResult(t)
	return nil
}

// resolvePending walks the suspension's approval requests, prompting for each
// unresolved one. A rejection terminates the batch, so the walk stops as soon
// as the turn leaves AwaitingApproval.
func resolvePending(ctx context.Context, p *pipeline, t *turn.Turn, reader *bufio.Reader, autoApprove bool) (*turn.Turn, error) {
	latest := t
	for _, id := range t.Suspension.RequestIDs {
		if latest.Phase != turn.PhaseAwaitingApproval {
			break
		}

		req, err := p.approvals.Get(id)
		if err != nil {
			return nil, err
		}
		if req.Resolved() {
			continue
		}

		fmt.Printf("\nApproval required: %s(%s)\n", req.ToolName, req.ArgsJSON)
		approve := autoApprove
		if !autoApprove {
			fmt.Print("Approve? [y/N]: ")
			line, err := reader.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("read approval decision: %w", err)
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			approve = answer == "y" || answer == "yes"
		}

		decision := approval.DecisionInput{DecidedBy: "cli"}
		latest, err = p.orchestrator.Resolve(ctx, id, approve, decision)
		if err != nil {
			return nil, err
		}
	}
	return latest, nil
}

func printTurnResult(t *turn.Turn) {
	if t.Result == nil {
		fmt.Printf("Turn %s is %s.\n", t.ID, t.Phase)
		return
	}

	switch t.Result.Kind {
	case turn.ResultAnswer:
		fmt.Println(t.Result.Answer)
	case turn.ResultBlocked:
		if t.Result.Answer != "" {
			fmt.Println(t.Result.Answer)
		} else {
			fmt.Printf("Request blocked: %s\n", t.Result.Reason)
		}
	case turn.ResultRejected:
		fmt.Printf("Tool call not executed: %s\n", t.Result.Reason)
	case turn.ResultFailed:
		fmt.Printf("Turn failed: %s\n", t.Result.Reason)
	case turn.ResultCancelled:
		fmt.Printf("Turn cancelled: %s\n", t.Result.Reason)
	default:
		fmt.Printf("Turn %s is %s.\n", t.ID, t.Phase)
	}
}
