package scanning

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// mockLocalScanner is a mock implementation of LocalScanner
type mockLocalScanner struct {
	draft    *Draft
	scanErr  error
	progress []int
	calls    int
}

func (m *mockLocalScanner) Scan(ctx context.Context, imageData []byte, contentType string, onProgress ProgressFunc) (*Draft, error) {
	m.calls++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	for _, p := range m.progress {
		onProgress(p, "working")
	}
	draft := *m.draft
	return &draft, nil
}

func (m *mockLocalScanner) Close() error { return nil }

// mockRemoteScanner is a mock implementation of RemoteScanner
type mockRemoteScanner struct {
	draft   *Draft
	scanErr error
	calls   int
}

func (m *mockRemoteScanner) Scan(ctx context.Context, imageData []byte, contentType string) (*Draft, error) {
	m.calls++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	draft := *m.draft
	return &draft, nil
}

func (m *mockRemoteScanner) Close() error { return nil }

var _ = Describe("Scan", func() {
	var (
		local  *mockLocalScanner
		remote *mockRemoteScanner
		scan   *Scan
		draft  *Draft
		err    error
	)

	BeforeEach(func() {
		local = &mockLocalScanner{
			draft: &Draft{
				Amount:      decimal.RequireFromString("45.50"),
				Confidence:  82,
				Description: "Market",
				Items: []DraftItem{
					{Name: "Ekmek", Quantity: 1, TotalPrice: decimal.RequireFromString("5.00")},
				},
			},
		}
		remote = &mockRemoteScanner{
			draft: &Draft{
				Amount:      decimal.RequireFromString("45.50"),
				Confidence:  99,
				Description: "Market A.S.",
			},
		}
	})

	JustBeforeEach(func() {
		scan = NewScan(local, remote, DefaultHeuristicConfig())
		draft, err = scan.Run(context.Background(), []byte("image"), "image/png", nil)
	})

	When("the local result passes the heuristics", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should use the local draft unchanged", func() {
			Expect(draft.Amount.String()).To(Equal("45.5"))
			Expect(draft.Description).To(Equal("Market"))
			Expect(draft.Items).To(HaveLen(1))
		})

		It("should tag the draft as local", func() {
			Expect(draft.Source).To(Equal(SourceLocal))
		})

		It("should make zero remote calls", func() {
			Expect(remote.calls).To(BeZero())
		})

		It("should end in the ready state", func() {
			Expect(scan.State()).To(Equal(StateReady))
		})
	})

	When("the local result fails the heuristics and the remote succeeds", func() {
		BeforeEach(func() {
			local.draft.Confidence = 40
		})

		It("should use the remote draft", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Description).To(Equal("Market A.S."))
		})

		It("should tag the draft as remote", func() {
			Expect(draft.Source).To(Equal(SourceRemote))
		})

		It("should call the remote engine once", func() {
			Expect(remote.calls).To(Equal(1))
		})
	})

	When("the local result is a suspicious large total and the remote hits its quota", func() {
		BeforeEach(func() {
			local.draft.Amount = decimal.RequireFromString("1999.00")
			local.draft.Confidence = 68
			remote.scanErr = &RemoteError{Reason: ReasonQuotaExceeded, Err: errors.New("quota exceeded")}
		})

		It("should not surface an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should fall back to the original local draft", func() {
			Expect(draft.Amount.String()).To(Equal("1999"))
			Expect(draft.Description).To(Equal("Market"))
		})

		It("should tag the draft as degraded", func() {
			Expect(draft.Source).To(Equal(SourceLocalDegraded))
		})

		It("should end in the ready state", func() {
			Expect(scan.State()).To(Equal(StateReady))
		})
	})

	When("the remote fails with an unclassified error", func() {
		BeforeEach(func() {
			local.draft.Confidence = 40
			remote.scanErr = errors.New("connection reset")
		})

		It("should still fall back to the local draft", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Source).To(Equal(SourceLocalDegraded))
		})
	})

	When("the local engine fails", func() {
		BeforeEach(func() {
			local.scanErr = errors.New("model not loaded")
		})

		It("should fail the scan", func() {
			Expect(err).To(HaveOccurred())
		})

		It("should not call the remote engine", func() {
			Expect(remote.calls).To(BeZero())
		})

		It("should end in the failed state", func() {
			Expect(scan.State()).To(Equal(StateFailed))
		})
	})

	When("no remote engine is configured", func() {
		BeforeEach(func() {
			local.draft.Confidence = 10
		})

		JustBeforeEach(func() {
			scan = NewScan(local, nil, DefaultHeuristicConfig())
			draft, err = scan.Run(context.Background(), []byte("image"), "image/png", nil)
		})

		It("should use the local draft regardless of its evaluation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Source).To(Equal(SourceLocal))
		})
	})

	Describe("progress republication", func() {
		It("republishes local progress unchanged", func() {
			local.progress = []int{10, 50, 100}
			scan := NewScan(local, remote, DefaultHeuristicConfig())

			var seen []int
			_, err := scan.Run(context.Background(), []byte("image"), "image/png", func(percent int, status string) {
				seen = append(seen, percent)
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal([]int{10, 50, 100}))
		})
	})

	Describe("reuse", func() {
		It("refuses to run twice", func() {
			Expect(err).NotTo(HaveOccurred())
			_, err := scan.Run(context.Background(), []byte("image"), "image/png", nil)
			Expect(err).To(MatchError(ErrScanConsumed))
		})
	})

	Describe("cancellation", func() {
		It("aborts before the remote fallback when the context is canceled", func() {
			local.draft.Confidence = 40
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			scan := NewScan(local, remote, DefaultHeuristicConfig())
			_, err := scan.Run(ctx, []byte("image"), "image/png", nil)

			Expect(err).To(HaveOccurred())
			Expect(remote.calls).To(BeZero())
		})
	})
})
