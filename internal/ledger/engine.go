package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UndoWindow is how long a deleted transaction stays restorable.
const UndoWindow = 10 * time.Second

// Validation errors, rejected before any balance mutation.
var (
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrNoPaymentMethod   = errors.New("a payment method must be selected")
	ErrCardRequired      = errors.New("card payment requires a target card")
	ErrSourceNotAllowed  = errors.New("source account is only valid for card payments")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrNothingToUndo     = errors.New("nothing to undo")
)

// IDGenerator generates unique IDs for persisted records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Intent describes a transaction mutation before it has been applied.
type Intent struct {
	UserID          string
	Type            TransactionType
	Amount          decimal.Decimal
	Currency        string
	Category        string
	Description     string
	Date            time.Time
	Entity          EntityRef
	SourceAccountID string
	ReceiptImageKey string
}

// undoSnapshot retains everything needed to restore a deleted transaction:
// the record itself and the exact deltas Delete reversed.
type undoSnapshot struct {
	txn       Transaction
	reversed  []BalanceDelta
	deletedAt time.Time
}

// Engine applies, reverses, and re-applies balance deltas as transactions
// are created, edited, deleted, and undone. It is the only code path that
// mutates account and card balances.
//
// Known limitation: the balance mutation and the transaction write are two
// separate store calls. If the second fails, the first is not compensated;
// the error is surfaced loudly instead so the user can verify balances.
type Engine struct {
	store       Store
	idGenerator IDGenerator
	timeSource  TimeSource

	mu      sync.Mutex
	pending map[string]*undoSnapshot
}

// NewEngine creates an Engine with the default ID generator and time source.
func NewEngine(store Store) *Engine {
	return NewEngineWithDeps(store, &uuidGenerator{}, &defaultTimeSource{})
}

// NewEngineWithDeps creates an Engine with custom dependencies for testing.
func NewEngineWithDeps(store Store, idGen IDGenerator, timeSrc TimeSource) *Engine {
	return &Engine{
		store:       store,
		idGenerator: idGen,
		timeSource:  timeSrc,
		pending:     make(map[string]*undoSnapshot),
	}
}

// validate rejects malformed intents before anything touches a balance.
func validate(intent Intent) error {
	if !intent.Amount.IsPositive() {
		return ErrAmountNotPositive
	}
	switch intent.Type {
	case TypeIncome, TypeExpense:
		if intent.Entity.IsZero() {
			return ErrNoPaymentMethod
		}
		if intent.SourceAccountID != "" {
			return ErrSourceNotAllowed
		}
	case TypeCardPayment:
		if intent.Entity.IsZero() {
			return ErrNoPaymentMethod
		}
		if intent.Entity.Kind != KindCard {
			return ErrCardRequired
		}
	default:
		return ErrInvalidType
	}
	return nil
}

// deltas computes the signed deltas an intent produces, one per referenced
// entity. Sign rules:
//
//	expense on account:      -amount
//	expense on card:         +amount (debt grows)
//	income on account:       +amount
//	income on card:          -amount (debt shrinks; rare but permitted)
//	card payment, card:      -amount (floored at zero by the store)
//	card payment, source:    -amount
func deltas(intent Intent) []BalanceDelta {
	switch intent.Type {
	case TypeExpense:
		amount := intent.Amount.Neg()
		if intent.Entity.Kind == KindCard {
			amount = intent.Amount
		}
		return []BalanceDelta{{Entity: intent.Entity, Amount: amount}}
	case TypeIncome:
		amount := intent.Amount
		if intent.Entity.Kind == KindCard {
			amount = intent.Amount.Neg()
		}
		return []BalanceDelta{{Entity: intent.Entity, Amount: amount}}
	case TypeCardPayment:
		result := []BalanceDelta{{Entity: intent.Entity, Amount: intent.Amount.Neg()}}
		if intent.SourceAccountID != "" {
			result = append(result, BalanceDelta{
				Entity: AccountRef(intent.SourceAccountID),
				Amount: intent.Amount.Neg(),
			})
		}
		return result
	}
	return nil
}

// apply pushes a set of deltas through the store, returning the deltas that
// actually landed (card deltas may be clipped by the zero floor). A card
// payment that brings the card to exactly zero also resets its minimum
// payment.
func (e *Engine) apply(txnType TransactionType, ds []BalanceDelta) ([]BalanceDelta, error) {
	applied := make([]BalanceDelta, 0, len(ds))
	for _, d := range ds {
		result, err := e.store.ApplyDelta(d)
		if err != nil {
			if len(applied) > 0 {
				slog.Error("Balance mutation partially applied; verify balances",
					"applied", len(applied), "failed_entity", d.Entity.String(), "error", err)
			}
			return applied, err
		}
		applied = append(applied, result.Applied)

		if txnType == TypeCardPayment && d.Entity.Kind == KindCard && result.Cleared {
			if err := e.store.ResetCardMinimumPayment(d.Entity.ID); err != nil {
				return applied, fmt.Errorf("resetting minimum payment: %w", err)
			}
		}
	}
	return applied, nil
}

// reverse applies the exact inverse of each recorded delta.
func (e *Engine) reverse(recorded []BalanceDelta) error {
	for _, d := range recorded {
		if _, err := e.store.ApplyDelta(d.Inverse()); err != nil {
			return fmt.Errorf("reversing delta on %s: %w", d.Entity.String(), err)
		}
	}
	return nil
}

// Create validates an intent, applies its balance deltas, and persists the
// transaction.
func (e *Engine) Create(intent Intent) (*Transaction, error) {
	if err := validate(intent); err != nil {
		return nil, err
	}

	applied, err := e.apply(intent.Type, deltas(intent))
	if err != nil {
		return nil, fmt.Errorf("applying balance delta: %w", err)
	}

	now := e.timeSource.Now()
	txn := &Transaction{
		ID:              e.idGenerator.Generate(),
		UserID:          intent.UserID,
		Type:            intent.Type,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Category:        intent.Category,
		Description:     intent.Description,
		Date:            intent.Date,
		Entity:          intent.Entity,
		SourceAccountID: intent.SourceAccountID,
		ReceiptImageKey: intent.ReceiptImageKey,
		AppliedDeltas:   applied,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := e.store.SaveTransaction(txn); err != nil {
		slog.Error("Transaction write failed after balance mutation; balances and records may disagree",
			"transaction_id", txn.ID, "error", err)
		return nil, fmt.Errorf("saving transaction: %w", err)
	}

	return txn, nil
}

// Edit reverses the old transaction's recorded deltas, applies the new
// intent's deltas, and overwrites the stored record. The two steps must not
// be collapsed into a net delta: when the owning entity changes, the old
// entity must be restored and the new one charged, and the new delta must be
// computed against a balance that has already absorbed the reversal.
func (e *Engine) Edit(transactionID string, intent Intent) (*Transaction, error) {
	if err := validate(intent); err != nil {
		return nil, err
	}

	old, err := e.store.GetTransaction(transactionID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction: %w", err)
	}

	if err := e.reverse(old.AppliedDeltas); err != nil {
		slog.Error("Edit reversal failed; balances and records may disagree",
			"transaction_id", transactionID, "error", err)
		return nil, err
	}

	applied, err := e.apply(intent.Type, deltas(intent))
	if err != nil {
		slog.Error("Edit re-application failed after reversal; balances and records may disagree",
			"transaction_id", transactionID, "error", err)
		return nil, fmt.Errorf("applying balance delta: %w", err)
	}

	txn := &Transaction{
		ID:              old.ID,
		UserID:          intent.UserID,
		Type:            intent.Type,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		Category:        intent.Category,
		Description:     intent.Description,
		Date:            intent.Date,
		Entity:          intent.Entity,
		SourceAccountID: intent.SourceAccountID,
		ReceiptImageKey: intent.ReceiptImageKey,
		AppliedDeltas:   applied,
		CreatedAt:       old.CreatedAt,
		UpdatedAt:       e.timeSource.Now(),
	}

	if err := e.store.SaveTransaction(txn); err != nil {
		slog.Error("Transaction overwrite failed after balance mutation; balances and records may disagree",
			"transaction_id", txn.ID, "error", err)
		return nil, fmt.Errorf("saving transaction: %w", err)
	}

	return txn, nil
}

// Delete reverses the transaction's recorded deltas, removes the record, and
// retains a single-shot snapshot for the undo window.
func (e *Engine) Delete(transactionID string) error {
	txn, err := e.store.GetTransaction(transactionID)
	if err != nil {
		return fmt.Errorf("loading transaction: %w", err)
	}

	if err := e.reverse(txn.AppliedDeltas); err != nil {
		slog.Error("Delete reversal failed; balances and records may disagree",
			"transaction_id", transactionID, "error", err)
		return err
	}

	if err := e.store.DeleteTransaction(transactionID); err != nil {
		slog.Error("Transaction delete failed after balance reversal; balances and records may disagree",
			"transaction_id", transactionID, "error", err)
		return fmt.Errorf("deleting transaction: %w", err)
	}

	e.mu.Lock()
	e.pending[transactionID] = &undoSnapshot{
		txn:       *txn,
		reversed:  txn.AppliedDeltas,
		deletedAt: e.timeSource.Now(),
	}
	e.mu.Unlock()

	return nil
}

// Undo restores a recently deleted transaction: the record is re-inserted
// under its original ID and the deltas Delete reversed are re-applied. The
// stored deltas are replayed as-is, without recomputing against the current
// balance; if an unrelated mutation happened in between, the replay still
// restores exactly the effect the transaction originally had.
//
// Outside the window, or on a second attempt, Undo reports ErrNothingToUndo.
// That is an informational outcome, not a failure.
func (e *Engine) Undo(transactionID string) (*Transaction, error) {
	e.mu.Lock()
	snapshot, ok := e.pending[transactionID]
	if ok {
		delete(e.pending, transactionID)
	}
	e.mu.Unlock()

	if !ok {
		return nil, ErrNothingToUndo
	}
	if e.timeSource.Now().Sub(snapshot.deletedAt) > UndoWindow {
		return nil, ErrNothingToUndo
	}

	txn := snapshot.txn
	if err := e.store.SaveTransaction(&txn); err != nil {
		return nil, fmt.Errorf("re-inserting transaction: %w", err)
	}

	for _, d := range snapshot.reversed {
		result, err := e.store.ApplyDelta(d)
		if err != nil {
			slog.Error("Undo re-application failed; balances and records may disagree",
				"transaction_id", transactionID, "error", err)
			return nil, fmt.Errorf("re-applying delta on %s: %w", d.Entity.String(), err)
		}
		if txn.Type == TypeCardPayment && d.Entity.Kind == KindCard && result.Cleared {
			if err := e.store.ResetCardMinimumPayment(d.Entity.ID); err != nil {
				return nil, fmt.Errorf("resetting minimum payment: %w", err)
			}
		}
	}

	return &txn, nil
}

// Get retrieves a transaction by ID.
func (e *Engine) Get(transactionID string) (*Transaction, error) {
	return e.store.GetTransaction(transactionID)
}

// List returns the transactions passing the filter. A zero filter returns
// everything.
func (e *Engine) List(filter TransactionFilter) ([]*Transaction, error) {
	txns, err := e.store.ListTransactions()
	if err != nil {
		return nil, err
	}
	filtered := make([]*Transaction, 0, len(txns))
	for _, txn := range txns {
		if filter.Matches(txn) {
			filtered = append(filtered, txn)
		}
	}
	return filtered, nil
}
