package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/gateway"
	"github.com/medsentry/medsentry/internal/turn"
	"github.com/spf13/cobra"
)

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start MedSentry server",
		RunE:  runServer,
	}

	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	if suspended, err := turn.NewStore(p.workspace).ListSuspended(); err == nil && len(suspended) > 0 {
		slog.Info("turns awaiting approval", "count", len(suspended))
		for _, t := range suspended {
			slog.Info("suspended turn", "turn", t.ID, "requests", t.Suspension.RequestIDs)
		}
	}

	if cfg.Approvals.TTLMinutes > 0 {
		go sweepExpiredApprovals(ctx, p)
	}

	errCh := make(chan error, 1)
	gatewayServer := gateway.New(cfg.Gateway, p.orchestrator, p.approvals, p.metrics)
	go func() {
		if err := gatewayServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("MedSentry server running. Gateway: http://%s\nPress Ctrl+C to stop.\n", gatewayServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("server component failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := gatewayServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}

	return runErr
}

// sweepExpiredApprovals ages out pending requests once a minute so a turn
// waiting on a lapsed approval terminates without an operator touching it.
func sweepExpiredApprovals(ctx context.Context, p *pipeline) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		expired, err := p.approvals.ExpirePending()
		if err != nil {
			slog.Warn("expire pending approvals failed", "error", err)
			continue
		}
		resumed := make(map[string]bool, len(expired))
		for _, req := range expired {
			slog.Info("approval expired", "request_id", req.ID, "turn_id", req.TurnID, "tool", req.ToolName)
			if resumed[req.TurnID] {
				continue
			}
			resumed[req.TurnID] = true
			if _, err := p.orchestrator.Resume(ctx, req.TurnID); err != nil {
				slog.Warn("resume after expiry failed", "turn_id", req.TurnID, "error", err)
			}
		}
	}
}
