package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// receiptScanPrompt is the shared prompt used by both engines for scanning
// receipts
const receiptScanPrompt = `You are analyzing a receipt or invoice document. Carefully read all text in the image and extract the following information:

1. **Store/Business Name**: Look for the merchant name at the top of the receipt. This is usually the largest text or in a header. Examples: "Migros", "CarrefourSA", "Walmart", "CVS Pharmacy".

2. **Date**: Find the transaction date on the receipt. Convert it to ISO 8601 format (YYYY-MM-DD). Common formats: MM/DD/YYYY, DD/MM/YYYY, DD.MM.YYYY, or written dates.

3. **Total Amount**: Find the final total or amount due. Usually at the bottom, labeled "TOTAL", "TOPLAM", "Amount Due" or similar. Extract only the numeric value.

4. **Currency**: The ISO 4217 code of the receipt currency (e.g., "TRY", "USD", "EUR"). Infer from currency symbols if no code is printed.

5. **Category**: A single expense category for the purchase as a whole, e.g. "groceries", "dining", "pharmacy", "fuel", "other".

6. **Line Items**: Every purchased line you can read, with name, quantity, unit price (null if not printed), line total, and optionally a category and brand (null when unknown).

7. **Confidence**: Your own 0-100 estimate of how reliably you read this receipt.

Return ONLY valid JSON in this exact format:
{
  "description": "Store Name",
  "date": "YYYY-MM-DD",
  "amount": 0.00,
  "currency": "TRY",
  "category": "groceries",
  "confidence": 0,
  "items": [
    {"name": "Item name", "quantity": 1, "unit_price": null, "total_price": 0.00, "category": null, "brand": null}
  ]
}

Important:
- The amount and prices must be numbers (not strings)
- The date must be in YYYY-MM-DD format
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// dateFormats are the fallbacks tried when the engine ignores the ISO 8601
// instruction.
var dateFormats = []string{
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"02.01.2006",
}

// parseDraftJSON parses the JSON response from a vision engine into a Draft.
// Engines routinely wrap the JSON in markdown fences or prose, so the object
// is located by its braces rather than parsed verbatim.
func parseDraftJSON(text string) (*Draft, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var draft Draft
	if err := json.Unmarshal([]byte(text), &draft); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	draft.Date = normalizeDate(draft.Date)

	draft.Description = strings.TrimSpace(draft.Description)
	if draft.Description == "" {
		draft.Description = defaultDescription
	}

	draft.Currency = strings.ToUpper(strings.TrimSpace(draft.Currency))

	if draft.Confidence < 0 {
		draft.Confidence = 0
	}
	if draft.Confidence > 100 {
		draft.Confidence = 100
	}

	for i := range draft.Items {
		draft.Items[i].Name = strings.TrimSpace(draft.Items[i].Name)
		if draft.Items[i].Quantity <= 0 {
			draft.Items[i].Quantity = 1
		}
	}

	return &draft, nil
}

// normalizeDate coerces whatever date string the engine produced into
// YYYY-MM-DD, defaulting to today when nothing parses.
func normalizeDate(date string) string {
	if date == "" {
		return time.Now().Format("2006-01-02")
	}
	if parsed, err := time.Parse("2006-01-02", date); err == nil {
		return parsed.Format("2006-01-02")
	}
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, date); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return time.Now().Format("2006-01-02")
}
