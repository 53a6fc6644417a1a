package receipt

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EmrahCan/budget-tracker/internal/ledger"
	"github.com/EmrahCan/budget-tracker/internal/scanning"
)

// Surface errors.
var (
	ErrNoDraft          = errors.New("no draft loaded")
	ErrNoPaymentMethod  = errors.New("a payment method must be selected before confirming")
	ErrAmountNotPositive = errors.New("amount must be positive")
)

// DraftSurface holds one scanned draft while the user edits it. Nothing on
// the surface is persisted; confirming hands a finalized intent to the
// reconciliation engine and cancel just drops the draft.
type DraftSurface struct {
	mu      sync.Mutex
	draft   *scanning.Draft
	payment ledger.EntityRef
	source  string
}

// NewDraftSurface creates a surface holding the given draft.
func NewDraftSurface(draft *scanning.Draft) *DraftSurface {
	return &DraftSurface{draft: draft}
}

// Draft returns a copy of the current draft for display.
func (s *DraftSurface) Draft() (scanning.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return scanning.Draft{}, false
	}
	return *s.draft, true
}

// Payment returns the currently selected payment method, if any.
func (s *DraftSurface) Payment() ledger.EntityRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payment
}

// Edit applies field-level changes to the held draft. Nil fields are left
// untouched.
type Edit struct {
	Amount      *decimal.Decimal
	Currency    *string
	Category    *string
	Description *string
	Date        *string
}

// Apply applies an edit to the draft.
func (s *DraftSurface) Apply(edit Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return ErrNoDraft
	}
	if edit.Amount != nil {
		s.draft.Amount = *edit.Amount
	}
	if edit.Currency != nil {
		s.draft.Currency = *edit.Currency
	}
	if edit.Category != nil {
		s.draft.Category = *edit.Category
	}
	if edit.Description != nil {
		s.draft.Description = *edit.Description
	}
	if edit.Date != nil {
		s.draft.Date = *edit.Date
	}
	return nil
}

// SelectPayment chooses the owning entity for the eventual transaction.
func (s *DraftSurface) SelectPayment(entity ledger.EntityRef) {
	s.mu.Lock()
	s.payment = entity
	s.mu.Unlock()
}

// Confirm finalizes the draft into an expense intent plus its receipt items
// and clears the surface. It fails without side effects when no payment
// method is selected or the edited amount is not positive.
func (s *DraftSurface) Confirm(userID string) (ledger.Intent, []ledger.ReceiptItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return ledger.Intent{}, nil, ErrNoDraft
	}
	if s.payment.IsZero() {
		return ledger.Intent{}, nil, ErrNoPaymentMethod
	}
	if !s.draft.Amount.IsPositive() {
		return ledger.Intent{}, nil, ErrAmountNotPositive
	}

	date, err := time.Parse("2006-01-02", s.draft.Date)
	if err != nil {
		date = time.Now()
	}

	intent := ledger.Intent{
		UserID:      userID,
		Type:        ledger.TypeExpense,
		Amount:      s.draft.Amount,
		Currency:    s.draft.Currency,
		Category:    s.draft.Category,
		Description: s.draft.Description,
		Date:        date,
		Entity:      s.payment,
	}

	items := make([]ledger.ReceiptItem, 0, len(s.draft.Items))
	for _, it := range s.draft.Items {
		items = append(items, ledger.ReceiptItem{
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			TotalPrice: it.TotalPrice,
			Category:   it.Category,
			Brand:      it.Brand,
		})
	}

	s.draft = nil
	s.payment = ledger.EntityRef{}
	return intent, items, nil
}

// Cancel discards the draft without persisting anything.
func (s *DraftSurface) Cancel() {
	s.mu.Lock()
	s.draft = nil
	s.payment = ledger.EntityRef{}
	s.mu.Unlock()
}
