package payable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.jetify.com/typeid"
)

// NewWorkflowID returns a new type-prefixed UUID for workflow identification
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// NewCheckpointID returns a new type-prefixed UUID for checkpoint identification
func NewCheckpointID() string {
	id, err := typeid.WithPrefix("ckpt")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// RunResult is what a Submit or SubmitDecision call hands back: the terminal
// (or paused) status plus the state the run produced.
type RunResult struct {
	WorkflowID    string
	InvoiceID     string
	Status        Status
	CheckpointID  string
	FailureReason string
	State         *WorkflowState
}

// OrchestratorOptions configures a new orchestrator.
type OrchestratorOptions struct {
	Config     *Config
	Router     *Router
	ERP        ERPClient
	Store      CheckpointStore
	Audit      AuditSink
	Hooks      PipelineHooks
	Stages     *Registry
	Logger     *slog.Logger
	Clock      func() time.Time
	Selections *SelectionLog
}

// Orchestrator drives invoices through the pipeline. It owns the transition
// table: stage outcomes decide where the run goes next, and the two-way match
// branch routes through the human review detour when the score falls short.
type Orchestrator struct {
	config     Config
	router     *Router
	erp        ERPClient
	store      CheckpointStore
	audit      AuditSink
	hooks      PipelineHooks
	stages     *Registry
	logger     *slog.Logger
	clock      func() time.Time
	selections *SelectionLog
}

// NewOrchestrator creates an orchestrator, defaulting any collaborator that
// was not provided.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Router == nil {
		// The defaulted router shares the run clock so selection
		// timestamps line up with the rest of the audit trail.
		opts.Router = NewDefaultRouter()
		opts.Router.now = opts.Clock
	}
	if opts.ERP == nil {
		opts.ERP = NewStaticERP(nil)
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Audit == nil {
		opts.Audit = NewNullAuditSink()
	}
	if opts.Hooks == nil {
		opts.Hooks = &BaseHooks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Selections == nil {
		opts.Selections = NewSelectionLog()
	}
	if opts.Stages == nil {
		stages, err := DefaultStages()
		if err != nil {
			return nil, err
		}
		opts.Stages = stages
	}
	config := DefaultConfig()
	if opts.Config != nil {
		config = *opts.Config
		if err := config.Validate(); err != nil {
			return nil, err
		}
	}
	return &Orchestrator{
		config:     config,
		router:     opts.Router,
		erp:        opts.ERP,
		store:      opts.Store,
		audit:      opts.Audit,
		hooks:      opts.Hooks,
		stages:     opts.Stages,
		logger:     opts.Logger,
		clock:      opts.Clock,
		selections: opts.Selections,
	}, nil
}

func (o *Orchestrator) env() *Env {
	return &Env{
		Router:          o.router,
		ERP:             o.erp,
		Config:          o.config,
		Selections:      o.selections,
		Logger:          o.logger,
		Clock:           o.clock,
		NewCheckpointID: NewCheckpointID,
	}
}

// Submit runs an invoice from INTAKE until the pipeline completes, pauses
// for human review, or fails. A paused run returns StatusPaused together
// with the checkpoint ID for later adjudication.
func (o *Orchestrator) Submit(ctx context.Context, payload InvoicePayload) (*RunResult, error) {
	state := NewWorkflowState(NewWorkflowID(), payload)
	logger := o.logger.With("workflow_id", state.WorkflowID, "invoice_id", state.InvoiceID)
	logger.Info("workflow started")
	return o.run(ctx, state, logger)
}

// SubmitDecision resolves a pending checkpoint and resumes the paused run.
// ACCEPT continues through reconciliation; REJECT routes the run to manual
// handling. A checkpoint can be resolved at most once.
func (o *Orchestrator) SubmitDecision(ctx context.Context, checkpointID string, decision Decision, reviewerID, notes string) (*RunResult, error) {
	if !ValidDecision(decision) {
		return nil, NewError(ErrorTypeMissingPrecondition, "decision must be ACCEPT or REJECT, got %q", decision)
	}
	checkpoint, err := o.store.Resolve(ctx, checkpointID, decision, reviewerID, notes)
	if err != nil {
		return nil, err
	}

	state, err := UnmarshalWorkflowState(checkpoint.State)
	if err != nil {
		return nil, fmt.Errorf("failed to restore checkpointed state: %w", err)
	}
	if state.HITL == nil {
		state.HITL = &HITLRecord{CheckpointID: checkpointID}
	}
	state.HITL.Decision = decision
	state.HITL.ReviewerID = reviewerID
	state.HITL.Notes = notes
	state.Status = StatusRunning
	state.Cursor = StageHITLDecision

	logger := o.logger.With("workflow_id", state.WorkflowID, "checkpoint_id", checkpointID)
	logger.Info("workflow resumed", "decision", string(decision))
	return o.run(ctx, state, logger)
}

// ListPendingReviews returns the human review queue, oldest first.
func (o *Orchestrator) ListPendingReviews(ctx context.Context) ([]*ReviewQueueEntry, error) {
	return o.store.ListPending(ctx)
}

// ListDecisionHistory returns resolved checkpoints with their decision
// metadata, most recently decided first.
func (o *Orchestrator) ListDecisionHistory(ctx context.Context) ([]*Checkpoint, error) {
	return o.store.ListResolved(ctx)
}

// GetAuditLog returns the persisted audit trail for a workflow.
func (o *Orchestrator) GetAuditLog(ctx context.Context, workflowID string) ([]AuditEvent, error) {
	return o.audit.History(ctx, workflowID)
}

// SelectionHistory returns the capability routing decisions recorded so far,
// keyed by stage and capability.
func (o *Orchestrator) SelectionHistory() map[string]string {
	return o.selections.History()
}

// run drives the stage loop from the state's current cursor until the run
// reaches a terminal status or pauses at a checkpoint.
func (o *Orchestrator) run(ctx context.Context, state *WorkflowState, logger *slog.Logger) (*RunResult, error) {
	env := o.env()
	for state.Cursor != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stage, ok := o.stages.Get(state.Cursor)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", state.Cursor)
		}

		start := o.clock()
		event := &StageEvent{
			WorkflowID: state.WorkflowID,
			InvoiceID:  state.InvoiceID,
			Stage:      stage.Name,
			StartTime:  start,
		}
		o.hooks.BeforeStage(ctx, event)
		logger.Debug("stage started", "stage", stage.Name)

		delta, outcome, err := stage.Run(ctx, env, state)

		// The delta is applied even when the stage failed, so routing
		// selections and audit events made before the failure survive.
		state.Apply(delta)
		o.flushAudit(ctx, state.WorkflowID, delta, logger)

		event.EndTime = o.clock()
		event.Duration = event.EndTime.Sub(start)
		event.Outcome = outcome
		event.Error = err
		o.hooks.AfterStage(ctx, event)

		if err != nil {
			logger.Error("stage errored", "stage", stage.Name, "error", err)
			return nil, &Error{Type: ErrorTypeStageFailed, Cause: fmt.Sprintf("stage %s: %v", stage.Name, err), Wrapped: err}
		}

		switch outcome.Kind {
		case OutcomeFail:
			return o.finishFailed(ctx, state, stage.Name, outcome.Reason, logger)
		case OutcomeBranch:
			next, err := o.branchTarget(stage.Name, outcome.Label)
			if err != nil {
				return nil, err
			}
			state.Cursor = next
		case OutcomeContinue:
			state.Cursor = o.stages.After(stage.Name)
		default:
			return nil, fmt.Errorf("stage %s returned unknown outcome kind %q", stage.Name, outcome.Kind)
		}

		if stage.Name == StageCheckpointHITL {
			return o.pause(ctx, state, logger)
		}
	}
	return o.finish(ctx, state, logger)
}

// branchTarget maps the labeled edges out of the two branching stages.
func (o *Orchestrator) branchTarget(stage, label string) (string, error) {
	switch {
	case stage == StageMatchTwoWay && label == BranchContinue:
		return StageReconcile, nil
	case stage == StageMatchTwoWay && label == BranchCheckpoint:
		return StageCheckpointHITL, nil
	case stage == StageHITLDecision && label == BranchContinue:
		return StageReconcile, nil
	case stage == StageHITLDecision && label == BranchSkip:
		return StageComplete, nil
	}
	return "", fmt.Errorf("stage %s has no branch %q", stage, label)
}

// pause persists the checkpoint and review queue entry, then hands control
// back to the caller. The stored state resumes at HITL_DECISION.
func (o *Orchestrator) pause(ctx context.Context, state *WorkflowState, logger *slog.Logger) (*RunResult, error) {
	if state.HITL == nil || state.HITL.CheckpointID == "" {
		return nil, NewError(ErrorTypeMissingPrecondition, "pause requires a checkpoint record on the state")
	}
	state.Status = StatusPaused

	serialized, err := state.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state for checkpoint: %w", err)
	}
	now := o.clock().UTC()
	checkpoint := &Checkpoint{
		ID:           state.HITL.CheckpointID,
		WorkflowID:   state.WorkflowID,
		InvoiceID:    state.InvoiceID,
		State:        serialized,
		PausedReason: state.HITL.Reason,
		CreatedAt:    now,
		Status:       CheckpointPending,
	}
	entry := &ReviewQueueEntry{
		CheckpointID: checkpoint.ID,
		InvoiceID:    state.InvoiceID,
		Amount:       state.Payload.Amount,
		Currency:     state.Payload.Currency,
		Reason:       state.HITL.Reason,
		CreatedAt:    now,
	}
	if state.Vendor != nil {
		entry.VendorName = state.Vendor.NormalizedName
	}
	if o.config.ReviewURLBase != "" {
		entry.ReviewURL = o.config.ReviewURLBase + "/" + checkpoint.ID
	}
	if err := o.store.Create(ctx, checkpoint, entry); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	logger.Info("workflow paused for human review", "checkpoint_id", checkpoint.ID)
	o.hooks.OnPause(ctx, &RunEvent{
		WorkflowID:   state.WorkflowID,
		InvoiceID:    state.InvoiceID,
		Status:       StatusPaused,
		CheckpointID: checkpoint.ID,
		Stage:        StageCheckpointHITL,
	})
	return &RunResult{
		WorkflowID:   state.WorkflowID,
		InvoiceID:    state.InvoiceID,
		Status:       StatusPaused,
		CheckpointID: checkpoint.ID,
		State:        state,
	}, nil
}

func (o *Orchestrator) finish(ctx context.Context, state *WorkflowState, logger *slog.Logger) (*RunResult, error) {
	status := state.Status
	if status != StatusManualHandoff {
		status = StatusCompleted
	}
	state.Status = status

	logger.Info("workflow finished", "status", string(status))
	o.hooks.OnFinish(ctx, &RunEvent{
		WorkflowID: state.WorkflowID,
		InvoiceID:  state.InvoiceID,
		Status:     status,
	})
	result := &RunResult{
		WorkflowID: state.WorkflowID,
		InvoiceID:  state.InvoiceID,
		Status:     status,
		State:      state,
	}
	if state.HITL != nil {
		result.CheckpointID = state.HITL.CheckpointID
	}
	return result, nil
}

func (o *Orchestrator) finishFailed(ctx context.Context, state *WorkflowState, stage, reason string, logger *slog.Logger) (*RunResult, error) {
	state.Status = StatusFailed
	failureEvent := []AuditEvent{{
		Stage:     stage,
		Event:     "workflow_failed",
		Timestamp: o.clock().UTC(),
		Detail:    map[string]any{"reason": reason},
	}}
	state.AuditLog = append(state.AuditLog, failureEvent...)
	if err := o.audit.Append(ctx, state.WorkflowID, failureEvent); err != nil {
		logger.Warn("failed to persist audit events", "error", err)
	}

	logger.Warn("workflow failed", "stage", stage, "reason", reason)
	o.hooks.OnFinish(ctx, &RunEvent{
		WorkflowID: state.WorkflowID,
		InvoiceID:  state.InvoiceID,
		Status:     StatusFailed,
		Stage:      stage,
		Error:      NewError(ErrorTypeStageFailed, "%s", reason),
	})
	return &RunResult{
		WorkflowID:    state.WorkflowID,
		InvoiceID:     state.InvoiceID,
		Status:        StatusFailed,
		FailureReason: reason,
		State:         state,
	}, nil
}

func (o *Orchestrator) flushAudit(ctx context.Context, workflowID string, delta *StateDelta, logger *slog.Logger) {
	if delta == nil || len(delta.AuditEvents) == 0 {
		return
	}
	if err := o.audit.Append(ctx, workflowID, delta.AuditEvents); err != nil {
		logger.Warn("failed to persist audit events", "error", err)
	}
}
