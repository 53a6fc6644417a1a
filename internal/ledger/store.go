package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Store errors callers branch on.
var (
	ErrNotFound          = errors.New("not found")
	ErrOverdraftExceeded = errors.New("overdraft limit exceeded")
)

// DeltaResult reports what an atomic delta application actually did.
type DeltaResult struct {
	// Applied is the delta that actually landed on the balance. For card
	// entities it may be smaller in magnitude than requested because card
	// debt floors at zero.
	Applied BalanceDelta
	// NewBalance is the balance after application.
	NewBalance decimal.Decimal
	// Cleared is true when a card balance was brought to exactly zero by
	// this application.
	Cleared bool
}

// Store defines the persistence operations the reconciliation engine needs.
// ApplyDelta is the critical one: the increment must happen atomically at the
// store (balance := balance + delta inside one storage transaction), never as
// a read-modify-write across two calls.
type Store interface {
	// Accounts
	SaveAccount(account *Account) error
	GetAccount(id string) (*Account, error)
	ListAccounts() ([]*Account, error)
	DeleteAccount(id string) error

	// Credit cards
	SaveCard(card *CreditCard) error
	GetCard(id string) (*CreditCard, error)
	ListCards() ([]*CreditCard, error)
	DeleteCard(id string) error

	// ApplyDelta atomically adds delta.Amount to the entity's balance.
	// Account balances are rejected below -OverdraftLimit; card balances
	// floor at zero, with the clipped delta reported in the result.
	ApplyDelta(delta BalanceDelta) (DeltaResult, error)

	// ResetCardMinimumPayment forces a card's minimum payment to zero.
	ResetCardMinimumPayment(id string) error

	// Transactions. SaveTransaction inserts or overwrites by ID, which is
	// what lets undo re-insert a deleted record under its original ID.
	SaveTransaction(txn *Transaction) error
	GetTransaction(id string) (*Transaction, error)
	ListTransactions() ([]*Transaction, error)
	DeleteTransaction(id string) error

	// Receipt items
	SaveReceiptItem(item *ReceiptItem) error
	ListReceiptItems(transactionID string) ([]*ReceiptItem, error)

	// Close closes the store
	Close() error
}
