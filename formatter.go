package payable

import (
	"context"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleHooks prints pipeline progress to the terminal. Colors are
// disabled automatically when stdout is not a tty.
type ConsoleHooks struct {
	BaseHooks
	Verbose bool
}

// NewConsoleHooks creates hooks that print stage progress to stdout
func NewConsoleHooks(verbose bool) *ConsoleHooks {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
	return &ConsoleHooks{Verbose: verbose}
}

func (h *ConsoleHooks) BeforeStage(ctx context.Context, event *StageEvent) {
	if h.Verbose {
		color.Blue("▶ %s", event.Stage)
	}
}

func (h *ConsoleHooks) AfterStage(ctx context.Context, event *StageEvent) {
	if event.Error != nil {
		color.Red("✗ %s: %v", event.Stage, event.Error)
		return
	}
	if h.Verbose {
		color.White("  %s done in %v", event.Stage, event.Duration.Round(time.Millisecond))
	}
}

func (h *ConsoleHooks) OnPause(ctx context.Context, event *RunEvent) {
	color.Yellow("⏸ paused for human review (checkpoint %s)", event.CheckpointID)
}

func (h *ConsoleHooks) OnFinish(ctx context.Context, event *RunEvent) {
	switch event.Status {
	case StatusCompleted:
		color.Green("✓ workflow %s completed", event.WorkflowID)
	case StatusManualHandoff:
		color.Magenta("⚑ workflow %s routed to manual handling", event.WorkflowID)
	case StatusFailed:
		color.Red("✗ workflow %s failed: %v", event.WorkflowID, event.Error)
	default:
		color.White("workflow %s finished with status %s", event.WorkflowID, event.Status)
	}
}
