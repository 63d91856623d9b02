// Package gemini extracts transaction fields from document images and PDFs
// with a Gemini multimodal model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	applog "finledger/internal/log"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

const DefaultModel = "gemini-2.5-flash"

// generator is the subset of *genai.Models the extractor needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Config struct {
	APIKey string
	Model  string
	// Categories are offered to the model as the closed category set.
	Categories []string
	Timeout    time.Duration
}

// Extractor sends one document per call and returns the model's raw text.
// Interpreting that text is left to the normalizer.
type Extractor struct {
	models  generator
	model   string
	prompt  string
	timeout time.Duration
}

func NewExtractor(ctx context.Context, cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newExtractor(client.Models, cfg), nil
}

func newExtractor(models generator, cfg Config) *Extractor {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Extractor{
		models:  models,
		model:   model,
		prompt:  buildPrompt(cfg.Categories),
		timeout: timeout,
	}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: e.prompt},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			},
		},
	}
	start := time.Now()
	resp, err := e.models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	slog.DebugContext(ctx, "Model extraction finished",
		applog.FieldComponent, applog.ComponentModel,
		applog.FieldOperation, applog.OpExtract,
		"model", e.model,
		"mime_type", mimeType,
		"bytes", len(data),
		applog.FieldDuration, time.Since(start).Milliseconds())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func buildPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You read photographed or scanned receipts and invoices.\n\n")
	b.WriteString("Return ONE JSON object with these fields:\n")
	b.WriteString("- \"document_type\": receipt, invoice, bank_transfer or other\n")
	b.WriteString("- \"date\": the transaction date as printed\n")
	b.WriteString("- \"merchant\": the business that was paid\n")
	b.WriteString("- \"total\": the final amount paid, as printed\n")
	b.WriteString("- \"currency\": ISO 4217 code if it can be determined\n")
	b.WriteString("- \"refund\": true if money was returned to the customer\n")
	if len(categories) > 0 {
		b.WriteString("- \"category\": exactly one of: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nUse null for anything not visible on the document. Do not guess amounts.\n")
	b.WriteString("Return only the JSON object, without Markdown fences.\n")
	return b.String()
}
