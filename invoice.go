package payable

import "time"

// LineItem is a single invoice or purchase order line.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}

// InvoicePayload is the inbound invoice document accepted at INTAKE. All
// fields are caller-supplied and immutable once intake succeeds.
type InvoicePayload struct {
	InvoiceID   string     `json:"invoice_id"`
	VendorName  string     `json:"vendor_name"`
	VendorTaxID string     `json:"vendor_tax_id,omitempty"`
	InvoiceDate string     `json:"invoice_date,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	Amount      float64    `json:"amount"`
	Currency    string     `json:"currency"`
	LineItems   []LineItem `json:"line_items,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
}

// ParsedInvoice holds the UNDERSTAND stage output: extracted text plus the
// structured fields recovered from it.
type ParsedInvoice struct {
	Text        string            `json:"text"`
	LineItems   []LineItem        `json:"line_items,omitempty"`
	DetectedPOs []string          `json:"detected_pos,omitempty"`
	Currency    string            `json:"currency"`
	Dates       map[string]string `json:"dates,omitempty"`
}

// VendorProfile is the normalized and enriched vendor record produced by
// PREPARE.
type VendorProfile struct {
	NormalizedName string            `json:"normalized_name"`
	TaxID          string            `json:"tax_id,omitempty"`
	Enrichment     map[string]string `json:"enrichment,omitempty"`
}

// RiskFlags are the screening heuristics computed at PREPARE.
type RiskFlags struct {
	RiskScore    float64 `json:"risk_score"`
	HighValue    bool    `json:"high_value"`
	MissingTaxID bool    `json:"missing_tax_id"`
}

// PurchaseOrder is an ERP purchase order record.
type PurchaseOrder struct {
	ID         string     `json:"id"`
	VendorName string     `json:"vendor_name"`
	Amount     float64    `json:"amount"`
	Currency   string     `json:"currency"`
	LineItems  []LineItem `json:"line_items,omitempty"`
}

// GoodsReceipt is an ERP goods received note tied to a purchase order.
type GoodsReceipt struct {
	ID       string `json:"id"`
	POID     string `json:"po_id"`
	Received bool   `json:"received"`
}

// HistoricalInvoice is a prior invoice for the same vendor, used as matching
// context.
type HistoricalInvoice struct {
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
}

// MatchEvidence records how the two-way match score was computed.
type MatchEvidence struct {
	InvoiceAmount float64 `json:"invoice_amount"`
	POAmount      float64 `json:"po_amount"`
	POID          string  `json:"po_id,omitempty"`
	AmountScore   float64 `json:"amount_score"`
	LineScore     float64 `json:"line_score"`
	WithinBand    bool    `json:"within_band"`
	TolerancePct  float64 `json:"tolerance_pct"`
}

// AccountingEntry is a single ledger line built by RECONCILE.
type AccountingEntry struct {
	Account  string  `json:"account"`
	Debit    float64 `json:"debit,omitempty"`
	Credit   float64 `json:"credit,omitempty"`
	Currency string  `json:"currency"`
	Memo     string  `json:"memo,omitempty"`
}

// ReconciliationReport summarizes invoice versus purchase order totals.
type ReconciliationReport struct {
	InvoiceAmount float64 `json:"invoice_amount"`
	POAmount      float64 `json:"po_amount"`
	Difference    float64 `json:"difference"`
	Reconciled    bool    `json:"reconciled"`
}

// PostingReceipt is the ERP's confirmation of a posted invoice.
type PostingReceipt struct {
	TxnID     string    `json:"txn_id"`
	PaymentID string    `json:"payment_id,omitempty"`
	PostedAt  time.Time `json:"posted_at,omitzero"`
}

// FinalPayload is the COMPLETE stage summary handed back to collaborators.
type FinalPayload struct {
	WorkflowID     string  `json:"workflow_id"`
	InvoiceID      string  `json:"invoice_id"`
	Status         Status  `json:"status"`
	Vendor         string  `json:"vendor,omitempty"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	MatchScore     float64 `json:"match_score"`
	ApprovalStatus string  `json:"approval_status,omitempty"`
	ERPTxnID       string  `json:"erp_txn_id,omitempty"`
	PaymentID      string  `json:"payment_id,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
}
