package turn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/medsentry/medsentry/internal/metrics"
	"github.com/medsentry/medsentry/internal/redact"
	"github.com/medsentry/medsentry/internal/tools"
)

// Executor runs a batch of approved or ordinary tool calls and redacts raw
// results before they re-enter the transcript. Tool calls are never retried:
// side effects must happen at most once, so a failed call fails the batch
// instead of replaying.
type Executor struct {
	registry *tools.Registry
	redactor *redact.Redactor
	metrics  *metrics.RuntimeMetrics
	redactOn bool
}

// NewExecutor creates a tool executor. redactor may be nil when redaction is
// disabled.
func NewExecutor(registry *tools.Registry, redactor *redact.Redactor, recorder *metrics.RuntimeMetrics) *Executor {
	return &Executor{
		registry: registry,
		redactor: redactor,
		metrics:  recorder,
		redactOn: redactor != nil,
	}
}

// ExecuteBatch runs every call in parallel, skipping ids recorded in the
// turn's executed set, and returns tool messages in the original call order.
// Each finished call is recorded on the turn before this returns, so a crash
// or partial failure never replays a completed side effect.
func (e *Executor) ExecuteBatch(ctx context.Context, t *Turn, calls []ToolCall) ([]Message, error) {
	type callResult struct {
		index  int
		call   ToolCall
		result string
		err    error
		reused bool
	}

	resultChan := make(chan callResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		if recorded, ok := t.Executed(call.ID); ok {
			resultChan <- callResult{index: i, call: call, result: recorded, reused: true}
			continue
		}

		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			start := time.Now()

			raw, err := e.registry.Execute(ctx, call.Name, call.Args)
			duration := time.Since(start)

			if e.metrics != nil {
				if _, metricErr := e.metrics.RecordToolExecution(duration, err); metricErr != nil {
					slog.Warn("record runtime metrics failed", "scope", "tool", "error", metricErr)
				}
			}
			slog.Info("tool execution finished",
				"turn_id", t.ID,
				"tool", call.Name,
				"duration_ms", duration.Milliseconds(),
				"success", err == nil,
			)

			if err != nil {
				resultChan <- callResult{index: i, call: call, err: err}
				return
			}

			result := raw
			if e.redactOn {
				redacted, matches := e.redactor.Redact(raw)
				result = redacted
				if len(matches) > 0 && e.metrics != nil {
					_, _ = e.metrics.RecordRedactions(len(matches))
				}
			}
			resultChan <- callResult{index: i, call: call, result: result}
		}(i, call)
	}

	wg.Wait()
	close(resultChan)

	ordered := make([]*callResult, len(calls))
	for res := range resultChan {
		res := res
		ordered[res.index] = &res
	}

	messages := make([]Message, 0, len(calls))
	var failed error
	now := time.Now().UTC()
	for _, res := range ordered {
		if res == nil {
			continue
		}
		if res.err != nil {
			if failed == nil {
				failed = fmt.Errorf("%w: tool %s: %v", ErrCollaborator, res.call.Name, res.err)
			}
			continue
		}
		if !res.reused {
			t.RecordExecuted(res.call.ID, res.result)
		}
		messages = append(messages, Message{
			Role:       "tool",
			Content:    res.result,
			ToolCallID: res.call.ID,
			Timestamp:  now,
		})
	}
	if failed != nil {
		return nil, failed
	}
	return messages, nil
}
