package payable

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"
)

// Env carries the collaborators a stage may use. Stages are otherwise pure:
// everything they produce flows back through the returned StateDelta.
type Env struct {
	Router          *Router
	ERP             ERPClient
	Config          Config
	Selections      *SelectionLog
	Logger          *slog.Logger
	Clock           func() time.Time
	NewCheckpointID func() string
}

// selectTool routes a capability through the router using its default pool
// and records the selection into the delta and the process-wide log. The
// recording happens before any of the stage's own effects are applied, so a
// selection is never lost even if the stage subsequently fails.
func (e *Env) selectTool(d *StateDelta, stage, capability string, hints map[string]string) (Selection, error) {
	pool, err := e.Router.DefaultPool(capability)
	if err != nil {
		return Selection{}, err
	}
	sel, err := e.Router.Select(capability, hints, pool)
	if err != nil {
		return Selection{}, err
	}
	d.AddSelection(stage, sel)
	e.Selections.Record(stage+"_"+capability, sel)
	return sel, nil
}

var poRefPattern = regexp.MustCompile(`PO-\d+(?:-\d+)*`)

// NormalizeVendorName collapses whitespace and upper-cases a vendor name so
// vendors key consistently across invoices and ERP lookups.
func NormalizeVendorName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// DefaultStages returns the registry of the twelve pipeline stages in order.
func DefaultStages() (*Registry, error) {
	return NewRegistry(
		&Stage{Name: StageIntake, Run: runIntake},
		&Stage{Name: StageUnderstand, Run: runUnderstand},
		&Stage{Name: StagePrepare, Run: runPrepare},
		&Stage{Name: StageRetrieve, Run: runRetrieve},
		&Stage{Name: StageMatchTwoWay, Run: runMatchTwoWay},
		&Stage{Name: StageCheckpointHITL, Run: runCheckpointHITL},
		&Stage{Name: StageHITLDecision, Run: runHITLDecision},
		&Stage{Name: StageReconcile, Run: runReconcile},
		&Stage{Name: StageApprove, Run: runApprove},
		&Stage{Name: StagePosting, Run: runPosting},
		&Stage{Name: StageNotify, Run: runNotify},
		&Stage{Name: StageComplete, Run: runComplete},
	)
}

// runIntake validates the invoice payload and assigns the raw record ID.
func runIntake(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageIntake, CapabilityStorage, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	p := st.Payload
	switch {
	case p.InvoiceID == "":
		return d, Fail("invoice payload missing invoice_id"), nil
	case p.VendorName == "":
		return d, Fail("invoice payload missing vendor_name"), nil
	case p.Amount <= 0:
		return d, Fail(fmt.Sprintf("invoice amount must be positive, got %.2f", p.Amount)), nil
	case p.Currency == "":
		return d, Fail("invoice payload missing currency"), nil
	}

	now := env.Clock()
	d.RawID = "RAW_" + st.WorkflowID
	d.IngestTS = now.UTC().Format(time.RFC3339)
	d.Valid = true
	d.AddAudit(StageIntake, "invoice_ingested", now, map[string]any{
		"invoice_id": p.InvoiceID,
		"raw_id":     d.RawID,
	})
	return d, Continue(), nil
}

// runUnderstand extracts invoice text and structure. The OCR capability is
// routed through the bigtool registry; the extraction itself is synthesized
// deterministically from the payload since concrete OCR engines live outside
// the core.
func runUnderstand(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.RawID == "" {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires raw_id from %s", StageUnderstand, StageIntake)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageUnderstand, CapabilityOCR, map[string]string{"priority": "accuracy"}); err != nil {
		return d, Outcome{}, err
	}

	p := st.Payload
	var text strings.Builder
	fmt.Fprintf(&text, "INVOICE %s\nVendor: %s\nAmount: %s %.2f\n", p.InvoiceID, p.VendorName, p.Currency, p.Amount)
	for _, item := range p.LineItems {
		fmt.Fprintf(&text, "%s x%.2f @ %.2f = %.2f\n", item.Description, item.Quantity, item.UnitPrice, item.Total)
	}
	for _, att := range p.Attachments {
		fmt.Fprintf(&text, "Attachment: %s\n", att)
	}

	detected := poRefPattern.FindAllString(text.String(), -1)
	parsed := &ParsedInvoice{
		Text:        text.String(),
		LineItems:   p.LineItems,
		DetectedPOs: detected,
		Currency:    p.Currency,
		Dates: map[string]string{
			"invoice_date": p.InvoiceDate,
			"due_date":     p.DueDate,
		},
	}
	d.Parsed = parsed
	d.AddAudit(StageUnderstand, "ocr_completed", env.Clock(), map[string]any{
		"items_parsed": len(parsed.LineItems),
		"detected_pos": len(detected),
	})
	return d, Continue(), nil
}

// runPrepare normalizes the vendor and computes screening flags.
func runPrepare(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.Parsed == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires parsed invoice from %s", StagePrepare, StageUnderstand)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StagePrepare, CapabilityEnrichment, map[string]string{"priority": "accuracy"}); err != nil {
		return d, Outcome{}, err
	}

	p := st.Payload
	normalized := NormalizeVendorName(p.VendorName)
	vendor := &VendorProfile{
		NormalizedName: normalized,
		TaxID:          p.VendorTaxID,
		Enrichment: map[string]string{
			"source":        "vendor_directory",
			"original_name": p.VendorName,
		},
	}

	flags := &RiskFlags{
		MissingTaxID: p.VendorTaxID == "",
		HighValue:    p.Amount > env.Config.AutoApproveLimit,
	}
	flags.RiskScore = 0.1
	if flags.MissingTaxID {
		flags.RiskScore += 0.3
	}
	if flags.HighValue {
		flags.RiskScore += 0.2
	}

	d.Vendor = vendor
	d.Flags = flags
	d.AddAudit(StagePrepare, "vendor_enriched", env.Clock(), map[string]any{
		"normalized_name": normalized,
		"risk_score":      flags.RiskScore,
	})
	return d, Continue(), nil
}

// runRetrieve fetches purchase orders, goods receipts and vendor history
// from the ERP collaborator.
func runRetrieve(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.Vendor == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires vendor profile from %s", StageRetrieve, StagePrepare)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageRetrieve, CapabilityERP, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	vendor := st.Vendor.NormalizedName
	pos, err := env.ERP.FetchPurchaseOrders(ctx, vendor)
	if err != nil {
		return d, Fail(fmt.Sprintf("purchase order lookup failed: %v", err)), nil
	}
	grns, err := env.ERP.FetchGoodsReceipts(ctx, vendor, pos)
	if err != nil {
		return d, Fail(fmt.Sprintf("goods receipt lookup failed: %v", err)), nil
	}
	history, err := env.ERP.FetchVendorHistory(ctx, vendor)
	if err != nil {
		return d, Fail(fmt.Sprintf("vendor history lookup failed: %v", err)), nil
	}

	// Non-nil slices mark retrieval as done for downstream preconditions.
	if pos == nil {
		pos = []PurchaseOrder{}
	}
	if grns == nil {
		grns = []GoodsReceipt{}
	}
	if history == nil {
		history = []HistoricalInvoice{}
	}
	d.MatchedPOs = pos
	d.MatchedGRNs = grns
	d.History = history
	d.AddAudit(StageRetrieve, "erp_data_fetched", env.Clock(), map[string]any{
		"pos_found":  len(pos),
		"grns_found": len(grns),
	})
	return d, Continue(), nil
}

// computeMatchScore implements the two-way match policy: the amount
// component is 1.0 inside the tolerance band and decays linearly with the
// percentage difference outside it; the line component is the agreement
// fraction between invoice and PO line items. Higher similarity always
// yields a higher score.
func computeMatchScore(payload InvoicePayload, pos []PurchaseOrder, tolerancePct float64) (float64, *MatchEvidence) {
	evidence := &MatchEvidence{
		InvoiceAmount: payload.Amount,
		TolerancePct:  tolerancePct,
	}
	if len(pos) == 0 || pos[0].Amount <= 0 {
		return 0, evidence
	}
	po := pos[0]
	evidence.POAmount = po.Amount
	evidence.POID = po.ID

	pctDiff := math.Abs(payload.Amount-po.Amount) / po.Amount
	if pctDiff*100 <= tolerancePct {
		evidence.AmountScore = 1.0
		evidence.WithinBand = true
	} else {
		evidence.AmountScore = math.Max(0, 1-pctDiff)
	}

	evidence.LineScore = lineAgreement(payload.LineItems, po.LineItems)

	score := 0.8*evidence.AmountScore + 0.2*evidence.LineScore
	return score, evidence
}

// lineAgreement compares line item sets by count and per-line totals. When
// either side carries no line items there is no basis for disagreement and
// the component is neutral.
func lineAgreement(inv, po []LineItem) float64 {
	if len(inv) == 0 || len(po) == 0 {
		return 1.0
	}
	longer := len(inv)
	if len(po) > longer {
		longer = len(po)
	}
	shorter := len(inv)
	if len(po) < shorter {
		shorter = len(po)
	}
	matched := 0
	for i := 0; i < shorter; i++ {
		if math.Abs(inv[i].Total-po[i].Total) < 0.01 {
			matched++
		}
	}
	countRatio := float64(shorter) / float64(longer)
	matchRatio := float64(matched) / float64(longer)
	return 0.5*countRatio + 0.5*matchRatio
}

// runMatchTwoWay computes the match score and picks the branch: below the
// configured threshold the run detours through the checkpoint stages.
func runMatchTwoWay(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.MatchedPOs == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires ERP data from %s", StageMatchTwoWay, StageRetrieve)
	}
	d := &StateDelta{}

	score, evidence := computeMatchScore(st.Payload, st.MatchedPOs, env.Config.TwoWayTolerancePct)
	matched := score >= env.Config.MatchThreshold

	d.MatchScore = &score
	d.MatchEvidence = evidence
	if matched {
		d.MatchResult = "MATCHED"
	} else {
		d.MatchResult = "FAILED"
	}
	d.AddAudit(StageMatchTwoWay, "matching_completed", env.Clock(), map[string]any{
		"match_score":  score,
		"match_result": d.MatchResult,
		"threshold":    env.Config.MatchThreshold,
	})

	if matched {
		return d, Branch(BranchContinue), nil
	}
	return d, Branch(BranchCheckpoint), nil
}

// runCheckpointHITL builds the pause record. The orchestrator persists the
// checkpoint and returns control to the caller once this stage's delta is
// applied.
func runCheckpointHITL(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.MatchScore == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires match score from %s", StageCheckpointHITL, StageMatchTwoWay)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageCheckpointHITL, CapabilityDB, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	checkpointID := env.NewCheckpointID()
	reason := fmt.Sprintf("match score %.2f below threshold %.2f: two-way matching requires human review",
		*st.MatchScore, env.Config.MatchThreshold)
	d.HITL = &HITLRecord{CheckpointID: checkpointID, Reason: reason}
	d.AddAudit(StageCheckpointHITL, "checkpoint_created", env.Clock(), map[string]any{
		"checkpoint_id": checkpointID,
		"reason":        reason,
	})
	return d, Continue(), nil
}

// runHITLDecision routes on the human decision merged in at resume. It is
// never invoked on the initial pass; the orchestrator enters it only with a
// decision already present.
func runHITLDecision(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.HITL == nil || !ValidDecision(st.HITL.Decision) {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires a recorded human decision", StageHITLDecision)
	}
	d := &StateDelta{}
	d.AddAudit(StageHITLDecision, "decision_recorded", env.Clock(), map[string]any{
		"checkpoint_id": st.HITL.CheckpointID,
		"decision":      string(st.HITL.Decision),
		"reviewer_id":   st.HITL.ReviewerID,
	})

	if st.HITL.Decision == DecisionReject {
		d.Status = StatusManualHandoff
		return d, Branch(BranchSkip), nil
	}
	return d, Branch(BranchContinue), nil
}

// runReconcile builds the accounting entries and the reconciliation report.
func runReconcile(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.Vendor == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires vendor profile from %s", StageReconcile, StagePrepare)
	}
	d := &StateDelta{}

	p := st.Payload
	entries := []AccountingEntry{
		{Account: "expense:vendor_services", Debit: p.Amount, Currency: p.Currency, Memo: "invoice " + p.InvoiceID},
		{Account: "liability:accounts_payable", Credit: p.Amount, Currency: p.Currency, Memo: "invoice " + p.InvoiceID},
	}
	report := &ReconciliationReport{
		InvoiceAmount: p.Amount,
		Reconciled:    true,
	}
	if len(st.MatchedPOs) > 0 {
		report.POAmount = st.MatchedPOs[0].Amount
		report.Difference = p.Amount - report.POAmount
	}

	d.Entries = entries
	d.Reconciliation = report
	d.AddAudit(StageReconcile, "accounting_entries_created", env.Clock(), map[string]any{
		"entries_count": len(entries),
	})
	return d, Continue(), nil
}

// runApprove applies the approval policy: invoices within the configured
// limit are approved automatically; larger ones are escalated but still
// approved deterministically (the human gate in this pipeline is the match
// checkpoint, not approval).
func runApprove(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.Entries == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires accounting entries from %s", StageApprove, StageReconcile)
	}
	d := &StateDelta{}

	if st.Payload.Amount <= env.Config.AutoApproveLimit {
		d.ApprovalStatus = "AUTO_APPROVED"
		d.ApproverID = "system"
	} else {
		d.ApprovalStatus = "ESCALATION_APPROVED"
		d.ApproverID = "finance_controller"
	}
	d.AddAudit(StageApprove, "approval_applied", env.Clock(), map[string]any{
		"approval_status": d.ApprovalStatus,
		"approver_id":     d.ApproverID,
	})
	return d, Continue(), nil
}

// runPosting posts the entries to the ERP and schedules payment.
func runPosting(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.ApprovalStatus == "" {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires approval from %s", StagePosting, StageApprove)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StagePosting, CapabilityERP, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	receipt, err := env.ERP.PostInvoice(ctx, st.InvoiceID, st.Entries)
	if err != nil {
		return d, Fail(fmt.Sprintf("ERP posting failed: %v", err)), nil
	}
	d.Posting = receipt
	d.AddAudit(StagePosting, "posted_to_erp", env.Clock(), map[string]any{
		"erp_txn_id": receipt.TxnID,
		"payment_id": receipt.PaymentID,
	})
	return d, Continue(), nil
}

// runNotify sends completion notifications to the configured parties.
func runNotify(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	if st.Posting == nil {
		return nil, Outcome{}, NewError(ErrorTypeMissingPrecondition, "%s requires posting receipt from %s", StageNotify, StagePosting)
	}
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageNotify, CapabilityEmail, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	notified, err := env.ERP.SendNotification(ctx, st.InvoiceID, env.Config.NotifyParties)
	if err != nil {
		return d, Fail(fmt.Sprintf("notification failed: %v", err)), nil
	}
	if notified == nil {
		notified = []string{}
	}
	d.NotifiedParties = notified
	d.AddAudit(StageNotify, "notifications_sent", env.Clock(), map[string]any{
		"parties_notified": len(notified),
	})
	return d, Continue(), nil
}

// runComplete finalizes the run. A MANUAL_HANDOFF status set by a REJECT
// decision is preserved; every other run completes as COMPLETED.
func runComplete(ctx context.Context, env *Env, st *WorkflowState) (*StateDelta, Outcome, error) {
	d := &StateDelta{}
	if _, err := env.selectTool(d, StageComplete, CapabilityDB, map[string]string{"priority": "speed"}); err != nil {
		return d, Outcome{}, err
	}

	status := StatusCompleted
	if st.Status == StatusManualHandoff {
		status = StatusManualHandoff
	}

	final := &FinalPayload{
		WorkflowID:     st.WorkflowID,
		InvoiceID:      st.InvoiceID,
		Status:         status,
		Amount:         st.Payload.Amount,
		Currency:       st.Payload.Currency,
		ApprovalStatus: st.ApprovalStatus,
		CompletedAt:    env.Clock().UTC().Format(time.RFC3339),
	}
	if st.Vendor != nil {
		final.Vendor = st.Vendor.NormalizedName
	}
	if st.MatchScore != nil {
		final.MatchScore = *st.MatchScore
	}
	if st.Posting != nil {
		final.ERPTxnID = st.Posting.TxnID
		final.PaymentID = st.Posting.PaymentID
	}

	d.Status = status
	d.Final = final
	d.AddAudit(StageComplete, "workflow_completed", env.Clock(), map[string]any{
		"final_status": string(status),
	})
	return d, Continue(), nil
}
