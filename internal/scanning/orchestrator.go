package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ScanState is the lifecycle position of one scan.
type ScanState string

const (
	StateIdle                  ScanState = "idle"
	StateRunningLocalOCR       ScanState = "running_local_ocr"
	StateEvaluating            ScanState = "evaluating"
	StateRunningRemoteFallback ScanState = "running_remote_fallback"
	StateReady                 ScanState = "ready"
	StateFailed                ScanState = "failed"
)

// ErrScanConsumed is returned when Run is invoked twice on the same Scan.
var ErrScanConsumed = errors.New("scan already ran")

// Scan coordinates one pass through the ingestion pipeline: local engine,
// trust evaluation, then optionally the remote fallback. One instance per
// scan; a Scan cannot be reused.
type Scan struct {
	local  LocalScanner
	remote RemoteScanner
	cfg    HeuristicConfig

	mu    sync.Mutex
	state ScanState
}

// NewScan creates a Scan in the idle state. remote may be nil when no
// fallback engine is configured; the local result is then used regardless of
// its evaluation.
func NewScan(local LocalScanner, remote RemoteScanner, cfg HeuristicConfig) *Scan {
	return &Scan{
		local:  local,
		remote: remote,
		cfg:    cfg,
		state:  StateIdle,
	}
}

// State reports the current lifecycle position. Safe to call from another
// goroutine while Run is in flight (e.g. a progress poller).
func (s *Scan) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scan) setState(state ScanState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run executes the pipeline and returns exactly one draft, tagged with the
// source that produced it. Local engine failure is fatal: there is no tier
// below it. Remote failure is not: the below-threshold local draft is still
// better than no result, so every remote error degrades to it.
//
// Canceling ctx abandons the scan; nothing has been persisted at any point
// in this pipeline, so no compensation is needed.
func (s *Scan) Run(ctx context.Context, imageData []byte, contentType string, onProgress ProgressFunc) (*Draft, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrScanConsumed
	}
	s.state = StateRunningLocalOCR
	s.mu.Unlock()

	localDraft, err := s.local.Scan(ctx, imageData, contentType, onProgress)
	if err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("local recognition: %w", err)
	}
	localDraft.Source = SourceLocal

	s.setState(StateEvaluating)
	ev := Evaluate(localDraft, s.cfg)
	slog.Debug("Evaluated local extraction",
		"confidence", localDraft.Confidence,
		"can_use", ev.CanUseLocalResult,
		"suspicious_amount", ev.AmountIsSuspiciouslyLarge,
		"items_text_ratio", ev.ItemsWithTextRatio,
		"item_sum_deviation", ev.LineItemSumDeviation,
	)

	if ev.CanUseLocalResult || s.remote == nil {
		s.setState(StateReady)
		return localDraft, nil
	}

	if err := ctx.Err(); err != nil {
		s.setState(StateFailed)
		return nil, fmt.Errorf("scan canceled: %w", err)
	}

	s.setState(StateRunningRemoteFallback)
	remoteDraft, err := s.remote.Scan(ctx, imageData, contentType)
	if err != nil {
		// Total fallback: quota, billing, and unclassified errors all
		// land on the original local draft rather than failing the scan.
		var remoteErr *RemoteError
		reason := ReasonOther
		if errors.As(err, &remoteErr) {
			reason = remoteErr.Reason
		}
		slog.Warn("Remote fallback failed, using local draft",
			"reason", string(reason),
			"error", err,
		)
		localDraft.Source = SourceLocalDegraded
		s.setState(StateReady)
		return localDraft, nil
	}

	remoteDraft.Source = SourceRemote
	s.setState(StateReady)
	return remoteDraft, nil
}
