package payable

import (
	"context"
	"time"
)

// PipelineHooks defines the callback interface for pipeline execution events
type PipelineHooks interface {
	// Stage-level callbacks
	BeforeStage(ctx context.Context, event *StageEvent)
	AfterStage(ctx context.Context, event *StageEvent)

	// Run-level callbacks
	OnPause(ctx context.Context, event *RunEvent)
	OnFinish(ctx context.Context, event *RunEvent)
}

// StageEvent provides context for stage-level events
type StageEvent struct {
	WorkflowID string
	InvoiceID  string
	Stage      string
	Outcome    Outcome
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Error      error
}

// RunEvent provides context for run-level events
type RunEvent struct {
	WorkflowID   string
	InvoiceID    string
	Status       Status
	CheckpointID string
	Stage        string
	Error        error
}

// BaseHooks provides a default implementation that does nothing. Embed it
// to implement only the callbacks you care about.
type BaseHooks struct{}

func (h *BaseHooks) BeforeStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (h *BaseHooks) AfterStage(ctx context.Context, event *StageEvent) {
	// noop
}

func (h *BaseHooks) OnPause(ctx context.Context, event *RunEvent) {
	// noop
}

func (h *BaseHooks) OnFinish(ctx context.Context, event *RunEvent) {
	// noop
}

// HookChain fans events out to multiple hook implementations in order.
type HookChain struct {
	hooks []PipelineHooks
}

// NewHookChain creates a new hook chain
func NewHookChain(hooks ...PipelineHooks) *HookChain {
	return &HookChain{hooks: hooks}
}

// Add adds a hook to the chain
func (c *HookChain) Add(hook PipelineHooks) {
	c.hooks = append(c.hooks, hook)
}

func (c *HookChain) BeforeStage(ctx context.Context, event *StageEvent) {
	for _, hook := range c.hooks {
		hook.BeforeStage(ctx, event)
	}
}

func (c *HookChain) AfterStage(ctx context.Context, event *StageEvent) {
	for _, hook := range c.hooks {
		hook.AfterStage(ctx, event)
	}
}

func (c *HookChain) OnPause(ctx context.Context, event *RunEvent) {
	for _, hook := range c.hooks {
		hook.OnPause(ctx, event)
	}
}

func (c *HookChain) OnFinish(ctx context.Context, event *RunEvent) {
	for _, hook := range c.hooks {
		hook.OnFinish(ctx, event)
	}
}
