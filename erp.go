package payable

import (
	"context"
	"fmt"
	"time"
)

// ERPClient is the boundary to external finance systems. Concrete backends
// (SAP, NetSuite, email gateways) live outside the core; StaticERP is the
// deterministic in-memory rendition used by tests and the CLI demo.
type ERPClient interface {
	// FetchPurchaseOrders returns open purchase orders for a vendor.
	FetchPurchaseOrders(ctx context.Context, vendorName string) ([]PurchaseOrder, error)

	// FetchGoodsReceipts returns goods received notes for the given orders.
	FetchGoodsReceipts(ctx context.Context, vendorName string, pos []PurchaseOrder) ([]GoodsReceipt, error)

	// FetchVendorHistory returns prior invoices for the vendor.
	FetchVendorHistory(ctx context.Context, vendorName string) ([]HistoricalInvoice, error)

	// PostInvoice posts accounting entries and returns the posting receipt.
	PostInvoice(ctx context.Context, invoiceID string, entries []AccountingEntry) (*PostingReceipt, error)

	// SendNotification notifies the given parties and returns those reached.
	SendNotification(ctx context.Context, invoiceID string, parties []string) ([]string, error)
}

// StaticERP serves canned purchase order data and synthesizes receipts as a
// pure function of the invoice ID, so repeated runs over the same payload
// behave identically.
type StaticERP struct {
	pos map[string][]PurchaseOrder
}

// NewStaticERP returns a StaticERP over vendor-keyed purchase orders. Keys
// are normalized vendor names.
func NewStaticERP(pos map[string][]PurchaseOrder) *StaticERP {
	if pos == nil {
		pos = map[string][]PurchaseOrder{}
	}
	return &StaticERP{pos: pos}
}

func (e *StaticERP) FetchPurchaseOrders(ctx context.Context, vendorName string) ([]PurchaseOrder, error) {
	orders := e.pos[vendorName]
	out := make([]PurchaseOrder, len(orders))
	copy(out, orders)
	return out, nil
}

func (e *StaticERP) FetchGoodsReceipts(ctx context.Context, vendorName string, pos []PurchaseOrder) ([]GoodsReceipt, error) {
	grns := make([]GoodsReceipt, 0, len(pos))
	for _, po := range pos {
		grns = append(grns, GoodsReceipt{
			ID:       "GRN-" + po.ID,
			POID:     po.ID,
			Received: true,
		})
	}
	return grns, nil
}

func (e *StaticERP) FetchVendorHistory(ctx context.Context, vendorName string) ([]HistoricalInvoice, error) {
	return nil, nil
}

func (e *StaticERP) PostInvoice(ctx context.Context, invoiceID string, entries []AccountingEntry) (*PostingReceipt, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no accounting entries to post for invoice %s", invoiceID)
	}
	return &PostingReceipt{
		TxnID:     "ERP-TXN-" + invoiceID,
		PaymentID: "PAY-" + invoiceID,
		PostedAt:  time.Now().UTC(),
	}, nil
}

func (e *StaticERP) SendNotification(ctx context.Context, invoiceID string, parties []string) ([]string, error) {
	out := make([]string, len(parties))
	copy(out, parties)
	return out, nil
}
