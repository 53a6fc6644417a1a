package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/EmrahCan/budget-tracker/internal/ledger"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoPaymentMethod),
		errors.Is(err, ErrAmountNotPositive),
		errors.Is(err, ErrNoDraft),
		errors.Is(err, ledger.ErrAmountNotPositive),
		errors.Is(err, ledger.ErrNoPaymentMethod),
		errors.Is(err, ledger.ErrCardRequired),
		errors.Is(err, ledger.ErrSourceNotAllowed),
		errors.Is(err, ledger.ErrInvalidType),
		errors.Is(err, ledger.ErrOverdraftExceeded):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readUpload pulls the receipt file out of a multipart form, inferring the
// content type from the extension when the browser did not send one.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, string, bool) {
	maxFormSize := int64(50 << 20) // 50MB, high-resolution phone photos
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return "", nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file provided")
		return "", nil, "", false
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB.")
		return "", nil, "", false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return "", nil, "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic", ".heif":
			contentType = "image/heic"
		case ".gif":
			contentType = "image/gif"
		default:
			contentType = "application/octet-stream"
		}
	}

	return header.Filename, data, contentType, true
}

// scanEvent is one line of the newline-delimited stream a scan request
// produces: progress lines while the engines work, then a single result or
// error line.
type scanEvent struct {
	Type      string         `json:"type"` // progress | result | error
	Percent   int            `json:"percent,omitempty"`
	Status    string         `json:"status,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Draft     any            `json:"draft,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// handleStartScan accepts a receipt upload and streams scan progress followed
// by the draft. Canceling the request aborts the scan.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	filename, data, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(ev scanEvent) {
		if err := enc.Encode(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	sessionID, draft, err := s.service.Scan(r.Context(), filename, data, contentType, func(percent int, status string) {
		emit(scanEvent{Type: "progress", Percent: percent, Status: status})
	})
	if err != nil {
		emit(scanEvent{Type: "error", Error: err.Error()})
		return
	}

	emit(scanEvent{Type: "result", SessionID: sessionID, Draft: draft})
}

// scanPatch is the body of a draft edit request. All fields are optional;
// payment selects the owning entity for the eventual transaction.
type scanPatch struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency"`
	Category    *string          `json:"category"`
	Description *string          `json:"description"`
	Date        *string          `json:"date"`
	Payment     *struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"payment"`
}

// handleGetScan returns the current state of a held draft
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	draft, payment, err := s.service.SessionDraft(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draft":   draft,
		"payment": payment,
	})
}

// handleEditScan applies field edits and payment selection to a held draft
func (s *Server) handleEditScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch scanPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if patch.Payment != nil {
		entity, err := ledger.ParseEntityRef(patch.Payment.Kind, patch.Payment.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.service.SelectPayment(id, entity); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	err := s.service.EditDraft(id, Edit{
		Amount:      patch.Amount,
		Currency:    patch.Currency,
		Category:    patch.Category,
		Description: patch.Description,
		Date:        patch.Date,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	draft, payment, err := s.service.SessionDraft(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draft":   draft,
		"payment": payment,
	})
}

// handleConfirmScan turns a held draft into a transaction
func (s *Server) handleConfirmScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.service.ConfirmScan(r.PathValue("id"), body.UserID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleCancelScan abandons a scan session
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	s.service.CancelScan(r.PathValue("id"))
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// transactionRequest is the boundary shape of a transaction mutation. The
// entity arrives as a kind/id pair and is validated into an EntityRef here,
// before anything reaches the engine.
type transactionRequest struct {
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Entity      struct {
		Kind string `json:"kind"`
		ID   string `json:"id"`
	} `json:"entity"`
	SourceAccountID string `json:"source_account_id"`
}

func (req transactionRequest) toIntent() (ledger.Intent, error) {
	entity, err := ledger.ParseEntityRef(req.Entity.Kind, req.Entity.ID)
	if err != nil {
		return ledger.Intent{}, err
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		date = time.Now()
	}

	return ledger.Intent{
		UserID:          req.UserID,
		Type:            ledger.TransactionType(req.Type),
		Amount:          req.Amount,
		Currency:        req.Currency,
		Category:        req.Category,
		Description:     req.Description,
		Date:            date,
		Entity:          entity,
		SourceAccountID: req.SourceAccountID,
	}, nil
}

// handleCreateTransaction creates a manually entered transaction
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	intent, err := req.toIntent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := s.service.CreateTransaction(intent)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// handleEditTransaction applies a new intent to an existing transaction
func (s *Server) handleEditTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	intent, err := req.toIntent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := s.service.EditTransaction(r.PathValue("id"), intent)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// handleDeleteTransaction deletes a transaction, opening its undo window
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteTransaction(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":          true,
		"undo_window_secs": int(ledger.UndoWindow / time.Second),
	})
}

// handleUndoTransaction restores a recently deleted transaction. An expired
// or consumed undo is an informational outcome, not an error.
func (s *Server) handleUndoTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.service.UndoDelete(r.PathValue("id"))
	if errors.Is(err, ledger.ErrNothingToUndo) {
		writeJSON(w, http.StatusOK, map[string]any{
			"undone":  false,
			"message": "nothing to undo",
		})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"undone":      true,
		"transaction": txn,
	})
}

// handleGetTransaction returns one transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.service.GetTransaction(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// handleListTransactions returns transactions, optionally narrowed by the
// type, entity_kind, and entity_id query parameters
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := ledger.TransactionFilter{
		Type: ledger.TransactionType(r.URL.Query().Get("type")),
	}
	if kind := r.URL.Query().Get("entity_kind"); kind != "" {
		entity, err := ledger.ParseEntityRef(kind, r.URL.Query().Get("entity_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Entity = entity
	}

	txns, err := s.service.ListTransactions(filter)
	if err != nil {
		slog.Error("Error listing transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

// handleTransactionItems returns the receipt items attached to a transaction
func (s *Server) handleTransactionItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.TransactionItems(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleReceiptURL mints a signed expiring URL for a transaction's receipt
// image
func (s *Server) handleReceiptURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.ReceiptImageURL(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleGetFile serves a stored receipt image through a signed URL
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.service.VerifyFileURL(key, r.URL.Query().Get("expires"), r.URL.Query().Get("sig")) {
		writeError(w, http.StatusForbidden, "invalid or expired link")
		return
	}

	data, err := s.service.ReceiptFile(key)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// accountRequest is the boundary shape of an account create
type accountRequest struct {
	UserID                string          `json:"user_id"`
	Name                  string          `json:"name"`
	Currency              string          `json:"currency"`
	Balance               decimal.Decimal `json:"balance"`
	OverdraftLimit        decimal.Decimal `json:"overdraft_limit"`
	OverdraftInterestRate decimal.Decimal `json:"overdraft_interest_rate"`
}

// handleCreateAccount creates a deposit account
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	account, err := s.service.CreateAccount(&ledger.Account{
		UserID:                req.UserID,
		Name:                  req.Name,
		Currency:              req.Currency,
		Balance:               req.Balance,
		OverdraftLimit:        req.OverdraftLimit,
		OverdraftInterestRate: req.OverdraftInterestRate,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// handleGetAccount returns one account
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.service.GetAccount(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleListAccounts returns all accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.ListAccounts()
	if err != nil {
		slog.Error("Error listing accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// handleDeleteAccount removes an account
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteAccount(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// cardRequest is the boundary shape of a card create
type cardRequest struct {
	UserID         string          `json:"user_id"`
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	Limit          decimal.Decimal `json:"limit"`
	MinimumPayment decimal.Decimal `json:"minimum_payment"`
	DueDay         int             `json:"due_day"`
}

// handleCreateCard creates a credit card
func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req cardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	card, err := s.service.CreateCard(&ledger.CreditCard{
		UserID:         req.UserID,
		Name:           req.Name,
		Currency:       req.Currency,
		Balance:        req.Balance,
		Limit:          req.Limit,
		MinimumPayment: req.MinimumPayment,
		DueDay:         req.DueDay,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// handleGetCard returns one credit card
func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.service.GetCard(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// handleListCards returns all credit cards
func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.service.ListCards()
	if err != nil {
		slog.Error("Error listing cards", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// handleDeleteCard removes a credit card
func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteCard(r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}
