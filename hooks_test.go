package payable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHookChainFansOut(t *testing.T) {
	first := &countingHooks{}
	second := &countingHooks{}
	chain := NewHookChain(first)
	chain.Add(second)

	ctx := context.Background()
	chain.BeforeStage(ctx, &StageEvent{Stage: StageIntake})
	chain.AfterStage(ctx, &StageEvent{Stage: StageIntake})
	chain.OnPause(ctx, &RunEvent{Status: StatusPaused})
	chain.OnFinish(ctx, &RunEvent{Status: StatusCompleted})

	for _, hooks := range []*countingHooks{first, second} {
		require.Equal(t, []string{StageIntake}, hooks.before)
		require.Equal(t, []string{StageIntake}, hooks.after)
		require.Equal(t, 1, hooks.paused)
		require.Equal(t, []Status{StatusCompleted}, hooks.finished)
	}
}

func TestBaseHooksIsANoop(t *testing.T) {
	var hooks PipelineHooks = &BaseHooks{}
	ctx := context.Background()

	// Nothing to assert beyond not panicking on nil-adjacent events.
	hooks.BeforeStage(ctx, &StageEvent{})
	hooks.AfterStage(ctx, &StageEvent{})
	hooks.OnPause(ctx, &RunEvent{})
	hooks.OnFinish(ctx, &RunEvent{})
}
