// Package vision reads receipt images through an OpenAI-compatible chat
// completion API.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/purchase-approval/internal/verification"
)

const DefaultModel = "gpt-4o"

var ErrEmptyResponse = errors.New("vision model returned no content")

var dateLayouts = []string{
	time.DateOnly,
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	time.RFC3339,
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Extractor implements verification.Extractor.
type Extractor struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewExtractor(config Config, logger *slog.Logger) *Extractor {
	model := config.Model
	if model == "" {
		model = DefaultModel
	}
	e := &Extractor{model: model, logger: logger}
	if config.APIKey == "" {
		return e
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	e.client = openai.NewClientWithConfig(clientConfig)
	return e
}

func (e *Extractor) Configured() bool {
	return e.client != nil
}

func (e *Extractor) Model() string {
	return e.model
}

type extraction struct {
	Vendor *string          `json:"vendor"`
	Amount *decimal.Decimal `json:"amount"`
	Date   *string          `json:"date"`
	Items  []string         `json:"items"`
}

func (e *Extractor) Extract(ctx context.Context, in verification.ExtractionInput) (*verification.ExtractedFields, error) {
	if e.client == nil {
		return nil, errors.New("vision extractor is not configured")
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", in.ContentType, base64.StdEncoding.EncodeToString(in.Data))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: userPrompt(in.Expected)},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	fields, err := ParseExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		e.logger.Warn("unparseable vision response", "error", err, "model", e.model)
		return nil, err
	}
	return fields, nil
}

// ParseExtraction decodes the model's JSON answer. Blank or unreadable values
// become nil rather than errors; only a malformed document fails.
func ParseExtraction(content string) (*verification.ExtractedFields, error) {
	content = stripCodeFence(content)

	var raw extraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w", err)
	}

	fields := &verification.ExtractedFields{Amount: raw.Amount}
	if raw.Vendor != nil {
		if v := strings.TrimSpace(*raw.Vendor); v != "" {
			fields.Vendor = &v
		}
	}
	if raw.Date != nil {
		fields.Date = parseDate(*raw.Date)
	}
	for _, item := range raw.Items {
		if item = strings.TrimSpace(item); item != "" {
			fields.Items = append(fields.Items, item)
		}
	}
	return fields, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const systemPrompt = `You read purchase receipts. Answer with a single JSON object:
{"vendor": string or null, "amount": number or null, "date": "YYYY-MM-DD" or null, "items": [string]}
"amount" is the final total charged, in the receipt's currency, without symbols.
Use null for anything you cannot read. Never guess.`

func userPrompt(e verification.Expectation) string {
	return fmt.Sprintf(
		"The employee says this receipt is from %q for $%s on %s. Extract what the receipt actually shows.",
		e.Vendor, e.Amount.StringFixed(2), e.Date.Format(time.DateOnly),
	)
}
