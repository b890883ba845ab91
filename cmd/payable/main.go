package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/finflow-ai/payable"
	payablesqlite "github.com/finflow-ai/payable/sqlite"
)

var (
	dbPath     string
	configPath string
	auditDir   string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "payable",
		Short: "Invoice processing pipeline with human-in-the-loop review",
		Long: `payable runs invoices through a twelve-stage accounts payable pipeline:
intake, extraction, vendor screening, ERP retrieval, two-way matching,
reconciliation, approval, posting and notification. Invoices whose match
score falls below the configured threshold pause for human review and can
be resumed with an ACCEPT or REJECT decision.`,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "payable.db", "Path to the SQLite checkpoint database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&auditDir, "audit-dir", "audit", "Directory for audit trail files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print per-stage progress")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(reviewsCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildOrchestrator() (*payable.Orchestrator, func(), error) {
	config := payable.DefaultConfig()
	if configPath != "" {
		loaded, err := payable.LoadConfigFile(configPath)
		if err != nil {
			return nil, nil, err
		}
		config = loaded
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	store, err := payablesqlite.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}

	if err := os.MkdirAll(auditDir, 0755); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	orchestrator, err := payable.NewOrchestrator(payable.OrchestratorOptions{
		Config: &config,
		Store:  store,
		Audit:  payable.NewFileAuditSink(auditDir),
		Hooks:  payable.NewConsoleHooks(verbose),
		Logger: payable.NewLogger(os.Stdout, level),
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	cleanup := func() { db.Close() }
	return orchestrator, cleanup, nil
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <invoice.json>",
		Short: "Run an invoice through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read invoice file: %w", err)
	}
	var payload payable.InvoicePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse invoice file: %w", err)
	}

	orchestrator, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	color.Blue("Submitting invoice %s", payload.InvoiceID)
	result, err := orchestrator.Submit(context.Background(), payload)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func reviewsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reviews",
		Short: "List invoices waiting for human review",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := orchestrator.ListPendingReviews(context.Background())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				color.White("No pending reviews")
				return nil
			}
			for _, entry := range entries {
				color.Yellow("%s", entry.CheckpointID)
				color.White("  invoice:  %s", entry.InvoiceID)
				if entry.VendorName != "" {
					color.White("  vendor:   %s", entry.VendorName)
				}
				color.White("  amount:   %s %.2f", entry.Currency, entry.Amount)
				color.White("  reason:   %s", entry.Reason)
				color.White("  created:  %s", entry.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func decideCmd() *cobra.Command {
	var reviewer, notes string
	cmd := &cobra.Command{
		Use:   "decide <checkpoint-id> <ACCEPT|REJECT>",
		Short: "Resolve a pending review and resume the workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := payable.Decision(args[1])
			if !payable.ValidDecision(decision) {
				return fmt.Errorf("decision must be ACCEPT or REJECT, got %q", args[1])
			}

			orchestrator, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := orchestrator.SubmitDecision(context.Background(), args[0], decision, reviewer, notes)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "cli_user", "Reviewer identifier recorded on the decision")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form reviewer notes")
	return cmd
}

func decisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decisions",
		Short: "Show past review decisions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			history, err := orchestrator.ListDecisionHistory(context.Background())
			if err != nil {
				return err
			}
			if len(history) == 0 {
				color.White("No decisions recorded")
				return nil
			}
			for _, checkpoint := range history {
				if checkpoint.Decision == payable.DecisionAccept {
					color.Green("%s  ACCEPT  by %s", checkpoint.ID, checkpoint.ReviewerID)
				} else {
					color.Red("%s  REJECT  by %s", checkpoint.ID, checkpoint.ReviewerID)
				}
				color.White("  invoice:  %s", checkpoint.InvoiceID)
				color.White("  decided:  %s", checkpoint.DecidedAt.Format("2006-01-02 15:04:05"))
				if checkpoint.Notes != "" {
					color.White("  notes:    %s", checkpoint.Notes)
				}
			}
			return nil
		},
	}
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <workflow-id>",
		Short: "Print the audit trail for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := orchestrator.GetAuditLog(context.Background(), args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				color.White("No audit events for %s", args[0])
				return nil
			}
			for _, event := range events {
				color.Cyan("%s  %-16s %s", event.Timestamp.Format("15:04:05.000"), event.Stage, event.Event)
				for key, value := range event.Detail {
					color.White("    %s: %v", key, value)
				}
			}
			return nil
		},
	}
}

func printResult(result *payable.RunResult) {
	switch result.Status {
	case payable.StatusCompleted:
		color.Green("Workflow %s completed", result.WorkflowID)
		if result.State != nil && result.State.Final != nil {
			final := result.State.Final
			color.White("Approval: %s", final.ApprovalStatus)
			if final.ERPTxnID != "" {
				color.White("ERP txn:  %s", final.ERPTxnID)
				color.White("Payment:  %s", final.PaymentID)
			}
		}
	case payable.StatusPaused:
		color.Yellow("Workflow %s paused for human review", result.WorkflowID)
		color.White("Checkpoint: %s", result.CheckpointID)
		color.White("Resolve with: payable decide %s ACCEPT", result.CheckpointID)
	case payable.StatusManualHandoff:
		color.Magenta("Workflow %s routed to manual handling", result.WorkflowID)
	case payable.StatusFailed:
		color.Red("Workflow %s failed: %s", result.WorkflowID, result.FailureReason)
	default:
		color.White("Workflow %s finished with status %s", result.WorkflowID, result.Status)
	}
}
