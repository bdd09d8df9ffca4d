package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/audit"
	"github.com/medsentry/medsentry/internal/bus"
	"github.com/medsentry/medsentry/internal/config"
	"github.com/medsentry/medsentry/internal/guard"
	"github.com/medsentry/medsentry/internal/metrics"
	"github.com/medsentry/medsentry/internal/redact"
	"github.com/medsentry/medsentry/internal/safety"
	"github.com/medsentry/medsentry/internal/tools"
)

// Notifier is told when a turn suspends for human approval.
type Notifier interface {
	NotifyApprovalPending(req approval.Request) error
}

// Options wires the orchestrator's collaborators. Config, Model, Registry,
// Approvals, and Store are required; the rest default to disabled or no-op.
type Options struct {
	Config    *config.Config
	Model     model.ChatModel
	Evaluator safety.Evaluator
	Registry  *tools.Registry
	Approvals *approval.Service
	Store     *Store
	Audit     *audit.Writer
	Metrics   *metrics.RuntimeMetrics
	Notifier  Notifier
	Now       func() time.Time
}

// Orchestrator sequences one turn through the guard pipeline. Turns run
// independently; the only shared mutable state is the approval registry and
// the turn store, both internally synchronized.
type Orchestrator struct {
	cfg        *config.Config
	model      model.ChatModel
	inputGuard *guard.InputGuard
	outGuard   *guard.OutputGuard
	classifier approval.Classifier
	approvals  *approval.Service
	executor   *Executor
	redactor   *redact.Redactor
	store      *Store
	audit      *audit.Writer
	metrics    *metrics.RuntimeMetrics
	notifier   Notifier
	now        func() time.Time

	callTimeout time.Duration
	maxRetries  int
	maxIter     int
	history     int
	ttl         time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a turn orchestrator and binds the registry's tools to the model.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator requires a config")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("orchestrator requires a chat model")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator requires a tool registry")
	}
	if opts.Approvals == nil {
		return nil, fmt.Errorf("orchestrator requires an approval service")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a turn store")
	}

	cfg := opts.Config
	inputGuard, err := guard.NewInputGuard(cfg.Guards.Input.Blocklist, cfg.Guards.Input.Topics)
	if err != nil {
		return nil, fmt.Errorf("build input guard: %w", err)
	}

	var outGuard *guard.OutputGuard
	if cfg.Guards.Output.Enabled {
		if opts.Evaluator == nil {
			return nil, fmt.Errorf("output guard enabled but no safety evaluator provided")
		}
		outGuard, err = guard.NewOutputGuard(opts.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("build output guard: %w", err)
		}
	}

	var redactor *redact.Redactor
	if cfg.Redaction.Enabled {
		redactor = redact.NewRedactor()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		cfg:         cfg,
		model:       opts.Model,
		inputGuard:  inputGuard,
		outGuard:    outGuard,
		classifier:  approval.NewClassifier(cfg.Approvals.SensitiveTools),
		approvals:   opts.Approvals,
		executor:    NewExecutor(opts.Registry, redactor, opts.Metrics),
		redactor:    redactor,
		store:       opts.Store,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		now:         now,
		callTimeout: time.Duration(cfg.Turns.CallTimeout) * time.Second,
		maxRetries:  cfg.Turns.MaxRetries,
		maxIter:     cfg.Turns.MaxIterations,
		history:     cfg.Turns.HistoryLimit,
		ttl:         time.Duration(cfg.Approvals.TTLMinutes) * time.Minute,
		locks:       make(map[string]*sync.Mutex),
	}

	if err := o.bindTools(opts.Registry); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) bindTools(registry *tools.Registry) error {
	infos, err := registry.GetToolInfos(context.Background())
	if err != nil {
		return fmt.Errorf("collect tool infos: %w", err)
	}
	if len(infos) == 0 {
		return nil
	}
	if binder, ok := o.model.(interface {
		BindTools([]*schema.ToolInfo) error
	}); ok {
		if err := binder.BindTools(infos); err != nil {
			return fmt.Errorf("bind tools to model: %w", err)
		}
	}
	return nil
}

// SubmitMessage starts a new turn for the given user text and drives it until
// it completes, blocks, fails, or suspends for approval. An empty turnID gets
// a generated uuid. The outcome is on the returned turn's Result.
func (o *Orchestrator) SubmitMessage(ctx context.Context, turnID, userText string) (*Turn, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, fmt.Errorf("submit message: empty user text")
	}
	if turnID == "" {
		turnID = uuid.NewString()
	} else if o.store.Exists(turnID) {
		return nil, fmt.Errorf("submit message: turn %s already exists", turnID)
	}

	lock := o.turnLock(turnID)
	lock.Lock()
	defer lock.Unlock()

	now := o.now().UTC()
	t := &Turn{
		ID:    turnID,
		Phase: PhaseCreated,
		Transcript: []Message{
			{Role: "user", Content: userText, Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnStarted()
	}
	o.auditEvent(ctx, audit.Event{Type: "turn_started", TurnID: t.ID})
	slog.Info("turn started", "turn_id", t.ID)

	if err := o.advance(ctx, t); err != nil {
		return t, err
	}
	if t.Phase.Terminal() {
		o.forgetTurnLock(t.ID)
	}
	return t, nil
}

// Resolve applies a human decision to one approval request and resumes the
// owning turn. Unknown, already-resolved, or expired requests fail with the
// approval package's sentinel errors without touching any turn. A decision
// recorded after a concurrent resolver already finished the turn is not an
// error; the turn is returned as it stands.
func (o *Orchestrator) Resolve(ctx context.Context, requestID string, approve bool, decision approval.DecisionInput) (*Turn, error) {
	var req approval.Request
	var err error
	if approve {
		req, err = o.approvals.Approve(requestID, decision)
	} else {
		req, err = o.approvals.Reject(requestID, decision)
	}
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		outcome := metrics.ApprovalRejected
		if approve {
			outcome = metrics.ApprovalApproved
		}
		_, _ = o.metrics.RecordApprovalOutcome(outcome)
	}
	o.auditEvent(ctx, audit.Event{
		Type:   "approval_resolved",
		TurnID: req.TurnID,
		Tool:   req.ToolName,
		Result: string(req.Status),
	})
	slog.Info("approval resolved", "request_id", req.ID, "turn_id", req.TurnID, "status", req.Status)

	t, err := o.Resume(ctx, req.TurnID)
	if err != nil && (errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotSuspended)) {
		slog.Info("turn already settled before resume", "turn_id", req.TurnID, "phase", t.Phase)
		return t, nil
	}
	return t, err
}

// Resume reloads a suspended turn from the store and continues it. Safe to
// call after a process restart; a turn whose approvals are still pending
// stays suspended.
func (o *Orchestrator) Resume(ctx context.Context, turnID string) (*Turn, error) {
	lock := o.turnLock(turnID)
	lock.Lock()
	defer lock.Unlock()

	t, err := o.store.Load(turnID)
	if err != nil {
		return nil, err
	}
	if t.Phase.Terminal() {
		o.forgetTurnLock(t.ID)
		return t, fmt.Errorf("%w: turn %s is %s", ErrTerminal, t.ID, t.Phase)
	}
	if t.Phase != PhaseAwaitingApproval {
		return t, fmt.Errorf("%w: turn %s is %s", ErrNotSuspended, t.ID, t.Phase)
	}
	if err := o.advance(ctx, t); err != nil {
		return t, err
	}
	if t.Phase.Terminal() {
		o.forgetTurnLock(t.ID)
	}
	return t, nil
}

// Cancel transitions a non-terminal turn to Cancelled and moots outstanding
// approval requests so no in-flight approval can trigger execution later.
func (o *Orchestrator) Cancel(turnID, reason string) (*Turn, error) {
	lock := o.turnLock(turnID)
	lock.Lock()
	defer lock.Unlock()

	t, err := o.store.Load(turnID)
	if err != nil {
		return nil, err
	}
	if t.Phase.Terminal() {
		o.forgetTurnLock(t.ID)
		return t, fmt.Errorf("%w: turn %s is %s", ErrTerminal, t.ID, t.Phase)
	}

	if _, err := o.approvals.Moot(t.ID); err != nil {
		slog.Warn("moot approvals failed", "turn_id", t.ID, "error", err)
	}

	if reason == "" {
		reason = "cancelled by operator"
	}
	t.Phase = PhaseCancelled
	t.PendingCalls = nil
	t.Suspension = nil
	t.Result = &Result{Kind: ResultCancelled, Reason: reason}

	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeCancelled)
	}
	o.auditEvent(context.Background(), audit.Event{Type: "turn_cancelled", TurnID: t.ID, Result: reason})
	slog.Info("turn cancelled", "turn_id", t.ID, "reason", reason)

	if err := o.save(t); err != nil {
		return t, err
	}
	o.forgetTurnLock(t.ID)
	return t, nil
}

// Get loads a turn by id.
func (o *Orchestrator) Get(turnID string) (*Turn, error) {
	return o.store.Load(turnID)
}

// advance drives the state machine until the turn reaches a terminal phase
// or parks in AwaitingApproval. The turn is persisted after every transition.
func (o *Orchestrator) advance(ctx context.Context, t *Turn) error {
	for !t.Phase.Terminal() {
		switch t.Phase {
		case PhaseCreated:
			verdict := o.inputGuard.Evaluate(t.UserText())
			if !verdict.Allowed {
				if o.metrics != nil {
					_, _ = o.metrics.RecordInputBlock()
				}
				o.auditEvent(ctx, audit.Event{Type: "input_blocked", TurnID: t.ID, Result: verdict.Reason})
				slog.Info("input guard blocked turn", "turn_id", t.ID, "reason", verdict.Reason, "rule", verdict.Rule)
				o.block(t, verdict)
				break
			}
			t.Phase = PhaseInputChecked

		case PhaseInputChecked:
			t.Phase = PhaseGenerating

		case PhaseGenerating:
			if t.Iteration >= o.maxIter {
				o.fail(ctx, t, fmt.Errorf("%w: %d iterations", ErrIterationLimit, t.Iteration))
				break
			}
			t.Iteration++

			resp, err := o.generate(ctx, t)
			if err != nil {
				o.fail(ctx, t, err)
				break
			}
			calls := CallsFromResponse(resp)
			t.Transcript = append(t.Transcript, Message{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: calls,
				Timestamp: o.now().UTC(),
			})
			t.PendingCalls = calls
			t.Phase = PhaseOutputChecked

		case PhaseOutputChecked:
			if len(t.PendingCalls) == 0 {
				if err := o.finishAnswer(ctx, t); err != nil {
					o.fail(ctx, t, err)
				}
				break
			}
			done, err := o.routeToolCalls(ctx, t)
			if err != nil {
				o.fail(ctx, t, err)
				break
			}
			if done {
				// Suspended. Persist and hand control back to the caller.
				return o.save(t)
			}

		case PhaseAwaitingApproval:
			pending, err := o.checkApprovals(ctx, t)
			if err != nil {
				o.fail(ctx, t, err)
				break
			}
			if pending {
				return o.save(t)
			}

		case PhaseExecuting:
			messages, err := o.executor.ExecuteBatch(ctx, t, t.PendingCalls)
			if err != nil {
				o.fail(ctx, t, err)
				break
			}
			t.Transcript = append(t.Transcript, messages...)
			t.PendingCalls = nil
			t.Suspension = nil
			t.Phase = PhaseGenerating

		default:
			return fmt.Errorf("turn %s in unknown phase %q", t.ID, t.Phase)
		}

		if err := o.save(t); err != nil {
			return err
		}
	}
	return nil
}

// finishAnswer runs the output guard on a final text candidate and completes
// or blocks the turn. Only final answers are judged; tool-call responses pass
// through unevaluated.
func (o *Orchestrator) finishAnswer(ctx context.Context, t *Turn) error {
	candidate := ""
	for i := len(t.Transcript) - 1; i >= 0; i-- {
		if t.Transcript[i].Role == "assistant" {
			candidate = t.Transcript[i].Content
			break
		}
	}

	verdict, err := o.checkOutput(ctx, t, candidate)
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		if o.metrics != nil {
			_, _ = o.metrics.RecordOutputBlock()
		}
		o.auditEvent(ctx, audit.Event{Type: "output_blocked", TurnID: t.ID, Result: verdict.Reason})
		slog.Info("output guard blocked turn", "turn_id", t.ID, "reason", verdict.Reason)

		t.Transcript = append(t.Transcript, Message{
			Role:      "assistant",
			Content:   guard.RefusalMessage,
			Timestamp: o.now().UTC(),
		})
		t.Phase = PhaseBlocked
		t.Result = &Result{
			Kind:   ResultBlocked,
			Answer: guard.RefusalMessage,
			Reason: verdict.Reason,
			Rule:   verdict.Rule,
		}
		if o.metrics != nil {
			_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeBlocked)
		}
		return nil
	}

	answer := candidate
	if o.redactor != nil {
		redacted, matches := o.redactor.Redact(candidate)
		answer = redacted
		if len(matches) > 0 && o.metrics != nil {
			_, _ = o.metrics.RecordRedactions(len(matches))
		}
	}

	t.Phase = PhaseCompleted
	t.Result = &Result{Kind: ResultAnswer, Answer: answer}
	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeCompleted)
	}
	o.auditEvent(ctx, audit.Event{Type: "turn_completed", TurnID: t.ID})
	slog.Info("turn completed", "turn_id", t.ID, "iterations", t.Iteration)
	return nil
}

// routeToolCalls classifies the pending batch. Sensitive calls create
// approval requests and suspend the turn; an all-ordinary batch proceeds
// straight to execution. Returns true when the turn suspended.
func (o *Orchestrator) routeToolCalls(ctx context.Context, t *Turn) (bool, error) {
	var sensitive []ToolCall
	for _, call := range t.PendingCalls {
		if o.classifier.Classify(call.Name) == approval.Sensitive {
			sensitive = append(sensitive, call)
		}
	}
	if len(sensitive) == 0 {
		t.Phase = PhaseExecuting
		return false, nil
	}

	requestIDs := make([]string, 0, len(sensitive))
	for _, call := range sensitive {
		req, err := o.approvals.Create(approval.CreateInput{
			TurnID:   t.ID,
			CallID:   call.ID,
			ToolName: call.Name,
			ArgsJSON: call.Args,
			Reason:   "sensitive tool call detected",
			TTL:      o.ttl,
		})
		if err != nil {
			return false, fmt.Errorf("create approval request for %s: %w", call.Name, err)
		}
		requestIDs = append(requestIDs, req.ID)

		if o.metrics != nil {
			_, _ = o.metrics.RecordApprovalRequested()
		}
		o.auditEvent(ctx, audit.Event{Type: "approval_requested", TurnID: t.ID, Tool: call.Name})
		slog.Info("approval requested", "turn_id", t.ID, "request_id", req.ID, "tool", call.Name)
		if o.notifier != nil {
			if err := o.notifier.NotifyApprovalPending(req); err != nil {
				slog.Warn("approval notification failed", "request_id", req.ID, "error", err)
			}
		}
	}

	t.Suspension = &Suspension{RequestIDs: requestIDs, SuspendedAt: o.now().UTC()}
	t.Phase = PhaseAwaitingApproval
	t.Result = &Result{Kind: ResultAwaiting, RequestIDs: requestIDs}
	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnSuspended()
	}
	return true, nil
}

// checkApprovals inspects the suspension's requests. All approved moves the
// turn to Executing; any rejection, expiry, or mooting rejects the whole
// batch. Returns true while any request is still pending.
func (o *Orchestrator) checkApprovals(ctx context.Context, t *Turn) (bool, error) {
	if t.Suspension == nil || len(t.Suspension.RequestIDs) == 0 {
		return false, fmt.Errorf("turn %s awaiting approval without a suspension record", t.ID)
	}

	if o.ttl > 0 {
		if _, err := o.approvals.ExpirePending(); err != nil {
			slog.Warn("expire pending approvals failed", "error", err)
		}
	}

	var denied *approval.Request
	for _, id := range t.Suspension.RequestIDs {
		req, err := o.approvals.Get(id)
		if err != nil {
			return false, fmt.Errorf("look up approval %s: %w", id, err)
		}
		switch req.Status {
		case approval.StatusPending:
			return true, nil
		case approval.StatusApproved:
			continue
		default:
			if denied == nil {
				r := req
				denied = &r
			}
		}
	}

	if denied != nil {
		o.rejectBatch(ctx, t, *denied)
		return false, nil
	}

	t.Phase = PhaseExecuting
	return false, nil
}

// rejectBatch applies the reject-one-reject-all policy: every call in the
// batch gets a rejection tool message so the transcript records why nothing
// ran, then the turn terminates.
func (o *Orchestrator) rejectBatch(ctx context.Context, t *Turn, denied approval.Request) {
	now := o.now().UTC()
	for _, call := range t.PendingCalls {
		content := fmt.Sprintf("Tool call '%s' was skipped because the batch was rejected.", call.Name)
		if o.classifier.Classify(call.Name) == approval.Sensitive {
			content = fmt.Sprintf("Tool call '%s' was rejected by the user.", call.Name)
		}
		t.Transcript = append(t.Transcript, Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
			Timestamp:  now,
		})
	}

	if denied.Status == approval.StatusExpired && o.metrics != nil {
		_, _ = o.metrics.RecordApprovalOutcome(metrics.ApprovalExpired)
	}

	reason := fmt.Sprintf("approval for '%s' was %s", denied.ToolName, denied.Status)
	t.PendingCalls = nil
	t.Suspension = nil
	t.Phase = PhaseBlocked
	t.Result = &Result{Kind: ResultRejected, Reason: reason}

	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeRejected)
	}
	o.auditEvent(ctx, audit.Event{Type: "turn_rejected", TurnID: t.ID, Tool: denied.ToolName, Result: string(denied.Status)})
	slog.Info("turn rejected", "turn_id", t.ID, "tool", denied.ToolName, "status", denied.Status)
}

func (o *Orchestrator) generate(ctx context.Context, t *Turn) (*schema.Message, error) {
	messages := t.SchemaMessages(o.history)

	var resp *schema.Message
	err := o.withRetry(ctx, "model", func(callCtx context.Context) error {
		var genErr error
		resp, genErr = o.model.Generate(callCtx, messages)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: model returned no message", ErrCollaborator)
	}
	return resp, nil
}

func (o *Orchestrator) checkOutput(ctx context.Context, t *Turn, candidate string) (guard.Verdict, error) {
	if o.outGuard == nil {
		return guard.Allow(), nil
	}

	var verdict guard.Verdict
	err := o.withRetry(ctx, "safety_evaluator", func(callCtx context.Context) error {
		v, evalErr := o.outGuard.Evaluate(callCtx, candidate, t.UserText())
		if evalErr != nil {
			return evalErr
		}
		verdict = v
		return nil
	})
	if err != nil {
		return guard.Verdict{}, err
	}
	return verdict, nil
}

// withRetry runs a collaborator call under the configured timeout, retrying
// up to the budget. Exhaustion surfaces as ErrCollaborator; the turn never
// proceeds on a failed stage.
func (o *Orchestrator) withRetry(ctx context.Context, stage string, fn func(context.Context) error) error {
	attempts := o.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("collaborator call failed", "stage", stage, "attempt", attempt, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrCollaborator, stage, lastErr)
}

func (o *Orchestrator) block(t *Turn, verdict guard.Verdict) {
	t.Phase = PhaseBlocked
	t.Result = &Result{Kind: ResultBlocked, Reason: verdict.Reason, Rule: verdict.Rule}
	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeBlocked)
	}
}

func (o *Orchestrator) fail(ctx context.Context, t *Turn, err error) {
	t.Phase = PhaseFailed
	t.PendingCalls = nil
	t.Result = &Result{Kind: ResultFailed, Reason: err.Error()}
	if o.metrics != nil {
		_, _ = o.metrics.RecordTurnOutcome(metrics.OutcomeFailed)
	}
	o.auditEvent(ctx, audit.Event{Type: "turn_failed", TurnID: t.ID, Result: err.Error()})
	slog.Error("turn failed", "turn_id", t.ID, "error", err)
}

func (o *Orchestrator) save(t *Turn) error {
	t.UpdatedAt = o.now().UTC()
	return o.store.Save(t)
}

func (o *Orchestrator) auditEvent(ctx context.Context, event audit.Event) {
	if o.audit == nil {
		return
	}
	event.Time = o.now().UTC()
	event.RequestID = bus.RequestIDFromContext(ctx)
	if err := o.audit.Append(event); err != nil {
		slog.Warn("audit append failed", "type", event.Type, "error", err)
	}
}

func (o *Orchestrator) turnLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[id] = lock
	}
	return lock
}

// forgetTurnLock drops the lock entry for a terminal turn so the map does not
// grow over the process lifetime. Callers still hold the dropped mutex; any
// later operation on the turn loads it and stops at the terminal-phase check.
func (o *Orchestrator) forgetTurnLock(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.locks, id)
}
