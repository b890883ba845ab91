package payable

import (
	"context"
	"fmt"
)

// Stage names, in registry order. CHECKPOINT_HITL and HITL_DECISION are only
// visited when two-way matching falls below the configured threshold.
const (
	StageIntake         = "INTAKE"
	StageUnderstand     = "UNDERSTAND"
	StagePrepare        = "PREPARE"
	StageRetrieve       = "RETRIEVE"
	StageMatchTwoWay    = "MATCH_TWO_WAY"
	StageCheckpointHITL = "CHECKPOINT_HITL"
	StageHITLDecision   = "HITL_DECISION"
	StageReconcile      = "RECONCILE"
	StageApprove        = "APPROVE"
	StagePosting        = "POSTING"
	StageNotify         = "NOTIFY"
	StageComplete       = "COMPLETE"
)

// Branch labels returned by the two branching stages.
const (
	BranchCheckpoint = "checkpoint"
	BranchContinue   = "continue"
	BranchSkip       = "skip"
)

// OutcomeKind discriminates a stage outcome.
type OutcomeKind string

const (
	OutcomeContinue OutcomeKind = "continue"
	OutcomeBranch   OutcomeKind = "branch"
	OutcomeFail     OutcomeKind = "fail"
)

// Outcome is what a stage reports back to the orchestrator: advance to the
// next stage, take a labeled branch, or terminate the run with a reason.
type Outcome struct {
	Kind   OutcomeKind
	Label  string
	Reason string
}

// Continue advances to the next stage in registry order.
func Continue() Outcome {
	return Outcome{Kind: OutcomeContinue}
}

// Branch takes the labeled edge out of the current stage.
func Branch(label string) Outcome {
	return Outcome{Kind: OutcomeBranch, Label: label}
}

// Fail terminates the run with a recorded reason. It is a domain failure,
// not a process error; the caller receives a structured failure status.
func Fail(reason string) Outcome {
	return Outcome{Kind: OutcomeFail, Reason: reason}
}

// StageFunc is a pure transformation from state to a state delta plus an
// outcome. A returned error is a programming error (for example a missing
// precondition) and aborts the run; domain failures are reported through
// Fail outcomes instead.
type StageFunc func(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error)

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Run  StageFunc
}

// Registry holds the ordered stage definitions.
type Registry struct {
	ordered []*Stage
	byName  map[string]*Stage
}

// NewRegistry builds a registry, validating that stage names are unique and
// non-empty.
func NewRegistry(stages ...*Stage) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stages required")
	}
	byName := make(map[string]*Stage, len(stages))
	for _, stage := range stages {
		if stage.Name == "" {
			return nil, fmt.Errorf("stage name required")
		}
		if _, exists := byName[stage.Name]; exists {
			return nil, fmt.Errorf("duplicate stage name %q", stage.Name)
		}
		byName[stage.Name] = stage
	}
	return &Registry{ordered: stages, byName: byName}, nil
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (*Stage, bool) {
	stage, ok := r.byName[name]
	return stage, ok
}

// After returns the stage following name in registry order, or "" if name is
// the last stage.
func (r *Registry) After(name string) string {
	for i, stage := range r.ordered {
		if stage.Name == name && i+1 < len(r.ordered) {
			return r.ordered[i+1].Name
		}
	}
	return ""
}

// Names returns the stage names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, stage := range r.ordered {
		names = append(names, stage.Name)
	}
	return names
}
