package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements the RemoteScanner interface using Google Gemini. It is
// the paid fallback tier: callers only reach for it when the local result
// failed the trust heuristics.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini RemoteScanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Scan analyzes a receipt and extracts a draft. Failures come back as
// *RemoteError so the caller can tell quota and billing refusals apart from
// transport faults when it logs the fallback.
func (g *Gemini) Scan(ctx context.Context, imageData []byte, contentType string) (*Draft, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	finalImageData, _, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, &RemoteError{Reason: ReasonOther, Err: err}
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the
	// full MIME type. After prepareImageData everything is PNG.
	parts := []genai.Part{
		genai.ImageData("png", finalImageData),
		genai.Text(receiptScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyRemoteError(err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &RemoteError{Reason: ReasonOther, Err: fmt.Errorf("no response from gemini")}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	draft, err := parseDraftJSON(responseText.String())
	if err != nil {
		return nil, &RemoteError{Reason: ReasonOther, Err: fmt.Errorf("parsing receipt data: %w", err)}
	}
	draft.Source = SourceRemote

	return draft, nil
}

// classifyRemoteError maps API failures onto the typed failure reasons. 429
// means the request quota ran out; 402/403 mean the billing account refused
// the call. Everything else is an ordinary fault.
func classifyRemoteError(err error) *RemoteError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return &RemoteError{Reason: ReasonQuotaExceeded, Err: err}
		case http.StatusPaymentRequired, http.StatusForbidden:
			return &RemoteError{Reason: ReasonPaymentRequired, Err: err}
		}
	}
	return &RemoteError{Reason: ReasonOther, Err: err}
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
