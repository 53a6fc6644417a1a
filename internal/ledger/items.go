package ledger

import "log/slog"

// ItemAttachOutcome reports how item reconciliation went. Items are
// best-effort enrichment: a failed item never rolls back the transaction it
// belongs to, so the outcome is a count of both sides rather than an error.
type ItemAttachOutcome struct {
	Attached int
	Failed   int
}

// AttachItems links itemized receipt lines to a persisted transaction.
// Quantity defaults to 1 and the transaction's date is copied onto each
// item. Persistence failures are logged and counted, nothing more.
func (e *Engine) AttachItems(txn *Transaction, items []ReceiptItem) ItemAttachOutcome {
	var outcome ItemAttachOutcome
	now := e.timeSource.Now()
	for _, item := range items {
		item.ID = e.idGenerator.Generate()
		item.UserID = txn.UserID
		item.TransactionID = txn.ID
		item.Date = txn.Date
		item.CreatedAt = now
		if item.Quantity <= 0 {
			item.Quantity = 1
		}

		if err := e.store.SaveReceiptItem(&item); err != nil {
			slog.Warn("Failed to save receipt item",
				"transaction_id", txn.ID, "item", item.Name, "error", err)
			outcome.Failed++
			continue
		}
		outcome.Attached++
	}
	return outcome
}

// Items returns the receipt items attached to a transaction.
func (e *Engine) Items(transactionID string) ([]*ReceiptItem, error) {
	return e.store.ListReceiptItems(transactionID)
}
