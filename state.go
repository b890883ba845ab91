package payable

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the workflow-level status reported to callers.
type Status string

const (
	StatusRunning       Status = "RUNNING"
	StatusPaused        Status = "PAUSED"
	StatusCompleted     Status = "COMPLETED"
	StatusManualHandoff Status = "MANUAL_HANDOFF"
	StatusFailed        Status = "FAILED"
)

// Decision is a human adjudication outcome for a paused workflow.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// ValidDecision reports whether d is one of the accepted decision values.
func ValidDecision(d Decision) bool {
	return d == DecisionAccept || d == DecisionReject
}

// AuditEvent is one entry in a workflow's append-only audit trail.
type AuditEvent struct {
	Stage     string         `json:"stage"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// HITLRecord holds the human-in-the-loop pause and decision metadata. It is
// present on the state only while a run is paused or after it has resumed.
type HITLRecord struct {
	CheckpointID string   `json:"checkpoint_id"`
	Reason       string   `json:"reason"`
	Decision     Decision `json:"decision,omitempty"`
	ReviewerID   string   `json:"reviewer_id,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// WorkflowState is the single record threaded through all stages. It is
// designed to be fully JSON serializable so it can be snapshotted into a
// checkpoint and reconstituted on resume.
//
// Domain fields are each owned by the stage that produces them and read-only
// downstream. All writes go through Apply; stages never mutate the state
// directly.
type WorkflowState struct {
	WorkflowID string         `json:"workflow_id"`
	InvoiceID  string         `json:"invoice_id"`
	Cursor     string         `json:"stage_cursor"`
	Status     Status         `json:"status"`
	Payload    InvoicePayload `json:"invoice_payload"`

	// INTAKE
	RawID    string `json:"raw_id,omitempty"`
	IngestTS string `json:"ingest_ts,omitempty"`
	Valid    bool   `json:"validated,omitempty"`

	// UNDERSTAND
	Parsed *ParsedInvoice `json:"parsed_invoice,omitempty"`

	// PREPARE
	Vendor *VendorProfile `json:"vendor_profile,omitempty"`
	Flags  *RiskFlags     `json:"flags,omitempty"`

	// RETRIEVE
	MatchedPOs  []PurchaseOrder     `json:"matched_pos,omitempty"`
	MatchedGRNs []GoodsReceipt      `json:"matched_grns,omitempty"`
	History     []HistoricalInvoice `json:"history,omitempty"`

	// MATCH_TWO_WAY
	MatchScore    *float64       `json:"match_score,omitempty"`
	MatchResult   string         `json:"match_result,omitempty"`
	MatchEvidence *MatchEvidence `json:"match_evidence,omitempty"`

	// HITL
	HITL *HITLRecord `json:"hitl,omitempty"`

	// RECONCILE
	Entries        []AccountingEntry     `json:"accounting_entries,omitempty"`
	Reconciliation *ReconciliationReport `json:"reconciliation_report,omitempty"`

	// APPROVE
	ApprovalStatus string `json:"approval_status,omitempty"`
	ApproverID     string `json:"approver_id,omitempty"`

	// POSTING
	Posting *PostingReceipt `json:"posting_receipt,omitempty"`

	// NOTIFY
	NotifiedParties []string `json:"notified_parties,omitempty"`

	// COMPLETE
	Final *FinalPayload `json:"final_payload,omitempty"`

	// AuditLog only ever grows; deltas are unioned by concatenation.
	AuditLog []AuditEvent `json:"audit_log"`

	// Selections maps "STAGE_capability" to the chosen tool name. Deltas
	// merge key-wise: a later write to an existing key replaces only that
	// key, never the whole map.
	Selections map[string]string `json:"bigtool_selections"`
}

// NewWorkflowState creates the initial state for a run.
func NewWorkflowState(workflowID string, payload InvoicePayload) *WorkflowState {
	return &WorkflowState{
		WorkflowID: workflowID,
		InvoiceID:  payload.InvoiceID,
		Cursor:     StageIntake,
		Status:     StatusRunning,
		Payload:    payload,
		AuditLog:   []AuditEvent{},
		Selections: map[string]string{},
	}
}

// StateDelta is the only way a stage communicates state updates. The
// orchestrator applies it through Apply after the stage returns; merge
// semantics are declared here once rather than scattered across stages.
type StateDelta struct {
	Status Status

	RawID    string
	IngestTS string
	Valid    bool

	Parsed *ParsedInvoice

	Vendor *VendorProfile
	Flags  *RiskFlags

	MatchedPOs  []PurchaseOrder
	MatchedGRNs []GoodsReceipt
	History     []HistoricalInvoice

	MatchScore    *float64
	MatchResult   string
	MatchEvidence *MatchEvidence

	HITL *HITLRecord

	Entries        []AccountingEntry
	Reconciliation *ReconciliationReport

	ApprovalStatus string
	ApproverID     string

	Posting *PostingReceipt

	NotifiedParties []string

	Final *FinalPayload

	// AuditEvents are appended to the state's audit log, never replacing it.
	AuditEvents []AuditEvent

	// Selections are unioned into the state's selection map key-wise.
	Selections map[string]string
}

// AddAudit appends an audit event to the delta.
func (d *StateDelta) AddAudit(stage, event string, at time.Time, detail map[string]any) {
	d.AuditEvents = append(d.AuditEvents, AuditEvent{
		Stage:     stage,
		Event:     event,
		Timestamp: at,
		Detail:    detail,
	})
}

// AddSelection records a capability selection under the "STAGE_capability"
// key and appends the matching audit event.
func (d *StateDelta) AddSelection(stage string, sel Selection) {
	if d.Selections == nil {
		d.Selections = map[string]string{}
	}
	d.Selections[stage+"_"+sel.Capability] = sel.Chosen
	d.AddAudit(stage, "tool_selected", sel.Timestamp, map[string]any{
		"capability": sel.Capability,
		"chosen":     sel.Chosen,
		"backend":    string(sel.Backend),
	})
}

// Apply merges a delta into the state. Scalar and struct fields are
// last-write-wins per field; the audit log is append-only; selections merge
// key-wise. WorkflowID, InvoiceID and the invoice payload are immutable and
// not representable in a delta.
func (s *WorkflowState) Apply(d *StateDelta) {
	if d == nil {
		return
	}
	if d.Status != "" {
		s.Status = d.Status
	}
	if d.RawID != "" {
		s.RawID = d.RawID
	}
	if d.IngestTS != "" {
		s.IngestTS = d.IngestTS
	}
	if d.Valid {
		s.Valid = true
	}
	if d.Parsed != nil {
		s.Parsed = d.Parsed
	}
	if d.Vendor != nil {
		s.Vendor = d.Vendor
	}
	if d.Flags != nil {
		s.Flags = d.Flags
	}
	if d.MatchedPOs != nil {
		s.MatchedPOs = d.MatchedPOs
	}
	if d.MatchedGRNs != nil {
		s.MatchedGRNs = d.MatchedGRNs
	}
	if d.History != nil {
		s.History = d.History
	}
	if d.MatchScore != nil {
		s.MatchScore = d.MatchScore
	}
	if d.MatchResult != "" {
		s.MatchResult = d.MatchResult
	}
	if d.MatchEvidence != nil {
		s.MatchEvidence = d.MatchEvidence
	}
	if d.HITL != nil {
		s.HITL = d.HITL
	}
	if d.Entries != nil {
		s.Entries = d.Entries
	}
	if d.Reconciliation != nil {
		s.Reconciliation = d.Reconciliation
	}
	if d.ApprovalStatus != "" {
		s.ApprovalStatus = d.ApprovalStatus
	}
	if d.ApproverID != "" {
		s.ApproverID = d.ApproverID
	}
	if d.Posting != nil {
		s.Posting = d.Posting
	}
	if d.NotifiedParties != nil {
		s.NotifiedParties = d.NotifiedParties
	}
	if d.Final != nil {
		s.Final = d.Final
	}
	s.AuditLog = append(s.AuditLog, d.AuditEvents...)
	if len(d.Selections) > 0 {
		if s.Selections == nil {
			s.Selections = map[string]string{}
		}
		for k, v := range d.Selections {
			s.Selections[k] = v
		}
	}
}

// Marshal serializes the state for checkpointing.
func (s *WorkflowState) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow state: %w", err)
	}
	return data, nil
}

// UnmarshalWorkflowState reconstitutes a state snapshot from a checkpoint.
func UnmarshalWorkflowState(data []byte) (*WorkflowState, error) {
	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}
	if s.Selections == nil {
		s.Selections = map[string]string{}
	}
	return &s, nil
}
