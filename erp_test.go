package payable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticERP(t *testing.T) {
	erp := NewStaticERP(map[string][]PurchaseOrder{
		"ACME CORP": {{ID: "PO-1", VendorName: "ACME CORP", Amount: 1000, Currency: "USD"}},
	})
	ctx := context.Background()

	t.Run("purchase orders by normalized vendor", func(t *testing.T) {
		pos, err := erp.FetchPurchaseOrders(ctx, "ACME CORP")
		require.NoError(t, err)
		require.Len(t, pos, 1)

		none, err := erp.FetchPurchaseOrders(ctx, "UNKNOWN")
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("goods receipts derive from orders", func(t *testing.T) {
		grns, err := erp.FetchGoodsReceipts(ctx, "ACME CORP", []PurchaseOrder{{ID: "PO-1"}, {ID: "PO-2"}})
		require.NoError(t, err)
		require.Len(t, grns, 2)
		require.Equal(t, "GRN-PO-1", grns[0].ID)
		require.True(t, grns[0].Received)
	})

	t.Run("posting is a pure function of the invoice", func(t *testing.T) {
		receipt, err := erp.PostInvoice(ctx, "INV-9", []AccountingEntry{{Account: "expense", Debit: 100}})
		require.NoError(t, err)
		require.Equal(t, "ERP-TXN-INV-9", receipt.TxnID)
		require.Equal(t, "PAY-INV-9", receipt.PaymentID)

		_, err = erp.PostInvoice(ctx, "INV-9", nil)
		require.Error(t, err)
	})

	t.Run("notification echoes the parties", func(t *testing.T) {
		notified, err := erp.SendNotification(ctx, "INV-9", []string{"vendor", "finance_team"})
		require.NoError(t, err)
		require.Equal(t, []string{"vendor", "finance_team"}, notified)
	})
}
