package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/EmrahCan/budget-tracker/internal/ledger"
	"github.com/EmrahCan/budget-tracker/internal/scanning"
)

// ErrSessionNotFound is returned when a scan session id is unknown, already
// confirmed, or canceled.
var ErrSessionNotFound = errors.New("scan session not found")

// receiptURLTTL is how long a minted receipt image link stays valid.
const receiptURLTTL = 15 * time.Minute

// IDGenerator generates unique IDs for scan sessions and entities
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

// scanSession ties a held draft to the image bytes it was scanned from, so
// the image can be uploaded when, and only when, the draft is confirmed.
type scanSession struct {
	id          string
	surface     *DraftSurface
	imageData   []byte
	contentType string
	filename    string
}

// ConfirmResult is what a confirmed scan produced.
type ConfirmResult struct {
	Transaction *ledger.Transaction      `json:"transaction"`
	Items       ledger.ItemAttachOutcome `json:"items"`
	// ImageStored is false when the receipt image upload failed; the
	// transaction is still created, just without an image reference.
	ImageStored bool `json:"image_stored"`
}

// Service wires the scanning pipeline to the reconciliation engine and owns
// the in-flight scan sessions.
type Service struct {
	engine     *ledger.Engine
	store      ledger.Store
	local      scanning.LocalScanner
	remote     scanning.RemoteScanner
	heuristics scanning.HeuristicConfig
	storage    Storage
	signer     *URLSigner

	idGenerator IDGenerator
	timeSource  TimeSource

	mu       sync.Mutex
	sessions map[string]*scanSession
}

// NewService creates a Service with default ID generator and time source.
func NewService(engine *ledger.Engine, store ledger.Store, local scanning.LocalScanner, remote scanning.RemoteScanner, heuristics scanning.HeuristicConfig, storage Storage, signer *URLSigner) *Service {
	return NewServiceWithDeps(engine, store, local, remote, heuristics, storage, signer, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(engine *ledger.Engine, store ledger.Store, local scanning.LocalScanner, remote scanning.RemoteScanner, heuristics scanning.HeuristicConfig, storage Storage, signer *URLSigner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		engine:      engine,
		store:       store,
		local:       local,
		remote:      remote,
		heuristics:  heuristics,
		storage:     storage,
		signer:      signer,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*scanSession),
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length (phone cameras generate very long names)
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// Scan runs the ingestion pipeline over an uploaded image and opens a scan
// session holding the resulting draft. Progress from the local engine is
// republished unchanged to onProgress.
func (s *Service) Scan(ctx context.Context, filename string, data []byte, contentType string, onProgress scanning.ProgressFunc) (string, scanning.Draft, error) {
	scan := scanning.NewScan(s.local, s.remote, s.heuristics)
	draft, err := scan.Run(ctx, data, contentType, onProgress)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return "", scanning.Draft{}, fmt.Errorf("scanning receipt: %w", err)
	}

	session := &scanSession{
		id:          s.idGenerator.Generate(),
		surface:     NewDraftSurface(draft),
		imageData:   data,
		contentType: contentType,
		filename:    filename,
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	return session.id, *draft, nil
}

func (s *Service) session(id string) (*scanSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// SessionDraft returns the current state of a held draft.
func (s *Service) SessionDraft(id string) (scanning.Draft, ledger.EntityRef, error) {
	session, err := s.session(id)
	if err != nil {
		return scanning.Draft{}, ledger.EntityRef{}, err
	}
	draft, ok := session.surface.Draft()
	if !ok {
		return scanning.Draft{}, ledger.EntityRef{}, ErrSessionNotFound
	}
	return draft, session.surface.Payment(), nil
}

// EditDraft applies field edits to a held draft.
func (s *Service) EditDraft(id string, edit Edit) error {
	session, err := s.session(id)
	if err != nil {
		return err
	}
	return session.surface.Apply(edit)
}

// SelectPayment chooses the payment method for a held draft.
func (s *Service) SelectPayment(id string, entity ledger.EntityRef) error {
	session, err := s.session(id)
	if err != nil {
		return err
	}
	session.surface.SelectPayment(entity)
	return nil
}

// CancelScan abandons a scan session. Nothing was persisted, so there is
// nothing to compensate.
func (s *Service) CancelScan(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if ok {
		session.surface.Cancel()
	}
}

// ConfirmScan finalizes a held draft: the image upload is attempted first
// (best effort; a failed upload yields a transaction without an image
// reference, never a failed confirmation), then the transaction is created
// and its line items attached.
func (s *Service) ConfirmScan(id string, userID string) (*ConfirmResult, error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}

	intent, items, err := session.surface.Confirm(userID)
	if err != nil {
		return nil, err
	}

	imageStored := false
	key, err := s.storage.Save(fmt.Sprintf("%s_%s", session.id, sanitizeFilename(session.filename)), session.imageData)
	if err != nil {
		slog.Warn("Receipt image upload failed; creating transaction without image",
			"session_id", session.id, "error", err)
	} else {
		intent.ReceiptImageKey = key
		imageStored = true
	}

	txn, err := s.engine.Create(intent)
	if err != nil {
		return nil, err
	}

	outcome := s.engine.AttachItems(txn, items)

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	return &ConfirmResult{Transaction: txn, Items: outcome, ImageStored: imageStored}, nil
}

// CreateTransaction creates a manually entered transaction.
func (s *Service) CreateTransaction(intent ledger.Intent) (*ledger.Transaction, error) {
	return s.engine.Create(intent)
}

// EditTransaction applies a new intent to an existing transaction.
func (s *Service) EditTransaction(id string, intent ledger.Intent) (*ledger.Transaction, error) {
	return s.engine.Edit(id, intent)
}

// DeleteTransaction deletes a transaction, opening its undo window.
func (s *Service) DeleteTransaction(id string) error {
	return s.engine.Delete(id)
}

// UndoDelete restores a recently deleted transaction.
func (s *Service) UndoDelete(id string) (*ledger.Transaction, error) {
	return s.engine.Undo(id)
}

// GetTransaction retrieves a transaction by ID.
func (s *Service) GetTransaction(id string) (*ledger.Transaction, error) {
	return s.engine.Get(id)
}

// ListTransactions returns the transactions passing the filter.
func (s *Service) ListTransactions(filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	return s.engine.List(filter)
}

// TransactionItems returns the receipt items attached to a transaction.
func (s *Service) TransactionItems(id string) ([]*ledger.ReceiptItem, error) {
	return s.engine.Items(id)
}

// ReceiptImageURL mints an expiring signed URL for a transaction's stored
// receipt image.
func (s *Service) ReceiptImageURL(transactionID string) (string, error) {
	txn, err := s.engine.Get(transactionID)
	if err != nil {
		return "", fmt.Errorf("getting transaction: %w", err)
	}
	if txn.ReceiptImageKey == "" {
		return "", fmt.Errorf("transaction %s has no receipt image", transactionID)
	}
	return s.signer.TemporaryURL(txn.ReceiptImageKey, receiptURLTTL), nil
}

// ReceiptFile retrieves a stored receipt image by key.
func (s *Service) ReceiptFile(key string) ([]byte, error) {
	return s.storage.Get(key)
}

// VerifyFileURL checks a signed file URL's expiry and signature.
func (s *Service) VerifyFileURL(key, expires, sig string) bool {
	return s.signer.Verify(key, expires, sig)
}

// CreateAccount creates a deposit account. The initial balance is set here;
// afterwards only the reconciliation engine mutates it.
func (s *Service) CreateAccount(account *ledger.Account) (*ledger.Account, error) {
	now := s.timeSource.Now()
	account.ID = s.idGenerator.Generate()
	account.CreatedAt = now
	account.UpdatedAt = now
	if err := s.store.SaveAccount(account); err != nil {
		return nil, fmt.Errorf("saving account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by ID.
func (s *Service) GetAccount(id string) (*ledger.Account, error) {
	return s.store.GetAccount(id)
}

// ListAccounts returns all accounts.
func (s *Service) ListAccounts() ([]*ledger.Account, error) {
	return s.store.ListAccounts()
}

// DeleteAccount removes an account.
func (s *Service) DeleteAccount(id string) error {
	return s.store.DeleteAccount(id)
}

// CreateCard creates a credit card.
func (s *Service) CreateCard(card *ledger.CreditCard) (*ledger.CreditCard, error) {
	now := s.timeSource.Now()
	card.ID = s.idGenerator.Generate()
	card.CreatedAt = now
	card.UpdatedAt = now
	if card.Balance.IsNegative() {
		card.Balance = decimal.Zero
	}
	if err := s.store.SaveCard(card); err != nil {
		return nil, fmt.Errorf("saving card: %w", err)
	}
	return card, nil
}

// GetCard retrieves a credit card by ID.
func (s *Service) GetCard(id string) (*ledger.CreditCard, error) {
	return s.store.GetCard(id)
}

// ListCards returns all credit cards.
func (s *Service) ListCards() ([]*ledger.CreditCard, error) {
	return s.store.ListCards()
}

// DeleteCard removes a credit card.
func (s *Service) DeleteCard(id string) error {
	return s.store.DeleteCard(id)
}
