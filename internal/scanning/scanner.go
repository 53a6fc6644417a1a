package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// DraftItem is a single extracted receipt line.
type DraftItem struct {
	Name       string           `json:"name"`
	Quantity   int              `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Category   *string          `json:"category"`
	Brand      *string          `json:"brand"`
}

// Source identifies which engine produced the accepted draft.
type Source string

const (
	SourceLocal         Source = "local"
	SourceRemote        Source = "remote"
	SourceLocalDegraded Source = "local-degraded"
)

// Draft contains the extracted information from a receipt. It is transient:
// it lives for the duration of one scan-edit-confirm cycle and is never
// persisted as its own entity.
type Draft struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Date        string          `json:"date"` // ISO 8601 format, may be empty
	Confidence  int             `json:"confidence"`
	Items       []DraftItem     `json:"items"`
	Source      Source          `json:"source"`
}

// ProgressFunc receives incremental progress from the local engine while a
// scan is in flight. percent is 0-100.
type ProgressFunc func(percent int, status string)

// LocalScanner defines the interface for the in-process recognition engine.
// It is the only long-running step of a scan and reports progress while it
// works.
type LocalScanner interface {
	// Scan analyzes a receipt image and extracts a draft
	Scan(ctx context.Context, imageData []byte, contentType string, onProgress ProgressFunc) (*Draft, error)
	// Close closes the scanner and releases resources
	Close() error
}

// RemoteScanner defines the interface for the remote vision fallback engine.
type RemoteScanner interface {
	// Scan analyzes a receipt image and extracts a draft
	Scan(ctx context.Context, imageData []byte, contentType string) (*Draft, error)
	// Close closes the scanner and releases resources
	Close() error
}

// RemoteFailureReason classifies why the remote engine refused a scan.
type RemoteFailureReason string

const (
	ReasonQuotaExceeded   RemoteFailureReason = "quota_exceeded"
	ReasonPaymentRequired RemoteFailureReason = "payment_required"
	ReasonOther           RemoteFailureReason = "other"
)

// RemoteError is the typed failure returned by a RemoteScanner. Every reason
// triggers the same total fallback to the local draft; the classification is
// kept for logging and user messaging.
type RemoteError struct {
	Reason RemoteFailureReason
	Err    error
}

func (e *RemoteError) Error() string {
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
