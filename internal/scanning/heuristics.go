package scanning

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// defaultDescription is the placeholder used when the engine could not read a
// merchant name. A draft carrying it is never considered plausible.
const defaultDescription = "Unknown Expense"

// HeuristicConfig holds the thresholds that decide whether a local extraction
// is trustworthy enough to skip the remote fallback. The defaults are load
// bearing: changing them changes which drafts get accepted, not just style.
type HeuristicConfig struct {
	// MinConfidence is the engine confidence below which a local result is
	// never accepted.
	MinConfidence int
	// TrustedConfidence is the engine confidence at or above which a large
	// total is no longer treated as a dropped-digit suspect.
	TrustedConfidence int
	// SuspiciousAmount is the total at or above which a low-confidence
	// extraction is suspected of having misread a leading digit.
	SuspiciousAmount decimal.Decimal
	// MinItemsTextRatio is the minimum fraction of line items with readable
	// names for the item list to be considered usable.
	MinItemsTextRatio float64
}

// DefaultHeuristicConfig returns the production thresholds.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		MinConfidence:     60,
		TrustedConfidence: 75,
		SuspiciousAmount:  decimal.NewFromInt(1000),
		MinItemsTextRatio: 0.5,
	}
}

// Evaluation carries the acceptance decision plus the component scores that
// produced it, for diagnostics and logging.
type Evaluation struct {
	ItemsWithTextRatio       float64
	LineItemSumDeviation     float64
	DescriptionIsPlausible   bool
	AmountIsSuspiciouslyLarge bool
	ItemsLookUsable          bool
	CanUseLocalResult        bool
}

// maxDeviation is the value LineItemSumDeviation takes when it cannot be
// computed (no items, zero amount).
const maxDeviation = 1.0

// Evaluate scores a local extraction against cfg. It is deterministic and has
// no side effects.
func Evaluate(draft *Draft, cfg HeuristicConfig) Evaluation {
	ev := Evaluation{
		ItemsWithTextRatio:   itemsWithTextRatio(draft.Items),
		LineItemSumDeviation: lineItemSumDeviation(draft),
	}

	ev.DescriptionIsPlausible = descriptionIsPlausible(draft.Description)

	ev.AmountIsSuspiciouslyLarge = draft.Amount.GreaterThanOrEqual(cfg.SuspiciousAmount) &&
		draft.Confidence < cfg.TrustedConfidence

	ev.ItemsLookUsable = len(draft.Items) > 0 && ev.ItemsWithTextRatio >= cfg.MinItemsTextRatio

	ev.CanUseLocalResult = draft.Confidence >= cfg.MinConfidence &&
		draft.Amount.IsPositive() &&
		!ev.AmountIsSuspiciouslyLarge

	return ev
}

// itemsWithTextRatio is the fraction of line items whose name contains at
// least one letter. OCR noise rows tend to come out as bare digits and
// punctuation.
func itemsWithTextRatio(items []DraftItem) float64 {
	if len(items) == 0 {
		return 0
	}
	withText := 0
	for _, item := range items {
		if containsLetter(item.Name) {
			withText++
		}
	}
	return float64(withText) / float64(len(items))
}

// lineItemSumDeviation is the relative difference between the sum of item
// totals and the extracted overall amount. It is only meaningful when both
// sides are positive; otherwise it reports maxDeviation.
func lineItemSumDeviation(draft *Draft) float64 {
	if !draft.Amount.IsPositive() {
		return maxDeviation
	}
	sum := decimal.Zero
	for _, item := range draft.Items {
		sum = sum.Add(item.TotalPrice)
	}
	if !sum.IsPositive() {
		return maxDeviation
	}
	deviation, _ := sum.Sub(draft.Amount).Abs().Div(draft.Amount).Float64()
	return deviation
}

// descriptionIsPlausible reports whether the extracted description looks like
// a real merchant name rather than the placeholder or OCR debris.
func descriptionIsPlausible(description string) bool {
	description = strings.TrimSpace(description)
	if description == "" || description == defaultDescription {
		return false
	}
	if len([]rune(description)) < 3 {
		return false
	}
	return containsLetter(description)
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
