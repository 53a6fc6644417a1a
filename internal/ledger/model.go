package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind distinguishes the two balance-carrying entities.
type EntityKind string

const (
	KindAccount EntityKind = "account"
	KindCard    EntityKind = "card"
)

// EntityRef identifies one balance-carrying entity. The zero value means "no
// entity selected". Payment-method selection arrives at the HTTP boundary as
// a kind plus an id and is validated there; the core never sees it as a raw
// string.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// AccountRef returns an EntityRef naming an account.
func AccountRef(id string) EntityRef {
	return EntityRef{Kind: KindAccount, ID: id}
}

// CardRef returns an EntityRef naming a credit card.
func CardRef(id string) EntityRef {
	return EntityRef{Kind: KindCard, ID: id}
}

// IsZero reports whether no entity is selected.
func (e EntityRef) IsZero() bool {
	return e.Kind == "" && e.ID == ""
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s/%s", e.Kind, e.ID)
}

// ParseEntityRef validates a kind/id pair coming in from the boundary.
func ParseEntityRef(kind, id string) (EntityRef, error) {
	if id == "" {
		return EntityRef{}, fmt.Errorf("entity id is required")
	}
	switch EntityKind(kind) {
	case KindAccount:
		return AccountRef(id), nil
	case KindCard:
		return CardRef(id), nil
	default:
		return EntityRef{}, fmt.Errorf("unknown entity kind: %q", kind)
	}
}

// TransactionType classifies how a transaction moves money.
type TransactionType string

const (
	TypeIncome      TransactionType = "income"
	TypeExpense     TransactionType = "expense"
	TypeCardPayment TransactionType = "card_payment"
)

// Account represents a deposit account. Balance is signed and may go
// negative down to -OverdraftLimit. Only the reconciliation engine mutates
// it.
type Account struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	Name                  string          `json:"name"`
	Currency              string          `json:"currency"`
	Balance               decimal.Decimal `json:"balance"`
	OverdraftLimit        decimal.Decimal `json:"overdraft_limit"`
	OverdraftInterestRate decimal.Decimal `json:"overdraft_interest_rate"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// CreditCard represents a credit card. Balance is the outstanding debt and
// never goes negative. MinimumPayment is reset to zero when a card payment
// fully clears the balance; recomputing it otherwise belongs to a scheduled
// job, not this engine.
type CreditCard struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	Limit          decimal.Decimal `json:"limit"`
	MinimumPayment decimal.Decimal `json:"minimum_payment"`
	DueDay         int             `json:"due_day"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// BalanceDelta is the signed amount one transaction mutation applied to one
// entity's balance. Deltas are recorded on the transaction so that edits and
// deletes reverse exactly what was applied, never a re-derivation from
// current state (which may have been clipped by the card zero floor).
type BalanceDelta struct {
	Entity EntityRef       `json:"entity"`
	Amount decimal.Decimal `json:"amount"`
}

// Inverse returns the delta that undoes d.
func (d BalanceDelta) Inverse() BalanceDelta {
	return BalanceDelta{Entity: d.Entity, Amount: d.Amount.Neg()}
}

// Transaction is a persisted movement of money. Entity is the owning entity;
// card payments additionally allow a funding account in SourceAccountID.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Category        string          `json:"category"`
	Description     string          `json:"description"`
	Date            time.Time       `json:"date"`
	Entity          EntityRef       `json:"entity"`
	SourceAccountID string          `json:"source_account_id,omitempty"`
	ReceiptImageKey string          `json:"receipt_image_key,omitempty"`
	AppliedDeltas   []BalanceDelta  `json:"applied_deltas"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TransactionFilter narrows a transaction listing. Zero-valued fields match
// everything.
type TransactionFilter struct {
	Type   TransactionType
	Entity EntityRef
}

// Matches reports whether a transaction passes the filter.
func (f TransactionFilter) Matches(txn *Transaction) bool {
	if f.Type != "" && txn.Type != f.Type {
		return false
	}
	if !f.Entity.IsZero() && txn.Entity != f.Entity {
		return false
	}
	return true
}

// ReceiptItem is one itemized line attached to a transaction. Items are
// enrichment only and never touch balances.
type ReceiptItem struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Name          string           `json:"name"`
	Quantity      int              `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	TotalPrice    decimal.Decimal  `json:"total_price"`
	Category      *string          `json:"category"`
	Brand         *string          `json:"brand"`
	Date          time.Time        `json:"date"`
	CreatedAt     time.Time        `json:"created_at"`
}
