package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/audit"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/metrics"
	"github.com/medsentry/medsentry/internal/notify"
	"github.com/medsentry/medsentry/internal/patientdb"
	"github.com/medsentry/medsentry/internal/provider"
	"github.com/medsentry/medsentry/internal/safety"
	"github.com/medsentry/medsentry/internal/tools"
	"github.com/medsentry/medsentry/internal/turn"
)

// pipeline bundles the orchestrator with the collaborators the commands also
// need direct access to.
type pipeline struct {
	orchestrator *turn.Orchestrator
	approvals    *approval.Service
	metrics      *metrics.RuntimeMetrics
	workspace    string
}

// buildPipeline assembles the full guard pipeline from config: chat model,
// safety evaluator, seeded patient database, tool registry, approval service,
// turn store, audit log, and metrics.
func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}

	chatModel, err := provider.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var evaluator safety.Evaluator
	if cfg.Guards.Output.Enabled {
		evaluator, err = safety.NewModelEvaluator(chatModel)
		if err != nil {
			return nil, err
		}
	}

	registry, err := defaultRegistry(patientdb.NewSeededStore())
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.Approvals.TTLMinutes) * time.Minute
	approvals := approval.NewService(workspacePath, ttl)
	recorder := metrics.NewRuntimeMetrics(workspacePath)

	opts := turn.Options{
		Config:    cfg,
		Model:     chatModel,
		Evaluator: evaluator,
		Registry:  registry,
		Approvals: approvals,
		Store:     turn.NewStore(workspacePath),
		Audit:     audit.NewWriter(workspacePath),
		Metrics:   recorder,
	}

	telegram, err := notify.NewTelegram(cfg.Notify.Telegram)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	if telegram != nil {
		opts.Notifier = telegram
	}

	orchestrator, err := turn.New(opts)
	if err != nil {
		return nil, err
	}

	return &pipeline{
		orchestrator: orchestrator,
		approvals:    approvals,
		metrics:      recorder,
		workspace:    workspacePath,
	}, nil
}

// buildPipelineWithModel is buildPipeline with an injected model and
// evaluator, used by the demo to run the pipeline without a provider.
func buildPipelineWithModel(cfg *config.Config, chatModel model.ChatModel, evaluator safety.Evaluator) (*pipeline, error) {
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		return nil, fmt.Errorf("invalid workspace: %w", err)
	}

	registry, err := defaultRegistry(patientdb.NewSeededStore())
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.Approvals.TTLMinutes) * time.Minute
	approvals := approval.NewService(workspacePath, ttl)
	recorder := metrics.NewRuntimeMetrics(workspacePath)

	orchestrator, err := turn.New(turn.Options{
		Config:    cfg,
		Model:     chatModel,
		Evaluator: evaluator,
		Registry:  registry,
		Approvals: approvals,
		Store:     turn.NewStore(workspacePath),
		Audit:     audit.NewWriter(workspacePath),
		Metrics:   recorder,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{
		orchestrator: orchestrator,
		approvals:    approvals,
		metrics:      recorder,
		workspace:    workspacePath,
	}, nil
}

func defaultRegistry(patients *patientdb.Store) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	toolFns := []func() (tool.InvokableTool, error){
		func() (tool.InvokableTool, error) { return tools.NewSearchPatientTool(patients) },
		func() (tool.InvokableTool, error) { return tools.NewSendEmailTool(tools.LogSender{}) },
		func() (tool.InvokableTool, error) { return tools.NewDeleteRecordTool(patients) },
		func() (tool.InvokableTool, error) { return tools.NewLiteratureSearchTool() },
	}

	for _, fn := range toolFns {
		t, err := fn()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
