package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
)

// maxPromptChars bounds the denial text sent to the model
const maxPromptChars = 24000

// ChatCompleter is the part of the OpenAI client used for extraction
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient creates a client. An empty baseURL uses the public API;
// a zero timeout leaves requests bounded only by their context.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return openai.NewClientWithConfig(cfg)
}

// LLMExtractor parses denial text with a chat model in JSON mode
type LLMExtractor struct {
	client      ChatCompleter
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewLLMExtractor creates an LLMExtractor
func NewLLMExtractor(client ChatCompleter, model string, temperature float32, logger *zap.Logger) *LLMExtractor {
	return &LLMExtractor{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

// Extract asks the model for the parsed fields
func (e *LLMExtractor) Extract(ctx context.Context, text string) (*port.Extraction, error) {
	if text == "" {
		return nil, errors.New("no text to extract from")
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a medical billing specialist who reads insurance claim denial letters. Extract exactly what the document states and always respond with valid JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildExtractionPrompt(text),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		e.logger.Error("OpenAI API call failed", zap.Error(err))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	var fields port.ParsedFields
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		jsonStr := extractJSON(content)
		if jsonStr == "" {
			e.logger.Error("Failed to parse extraction response", zap.Error(err), zap.String("content", content))
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
		if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
			return nil, fmt.Errorf("failed to parse extraction response: %w", err)
		}
	}
	normalize(&fields)

	e.logger.Info("Denial fields extracted",
		zap.String("claim_id", fields.ClaimID),
		zap.Int("denial_codes", len(fields.DenialCodes)),
		zap.Int("cpt_codes", len(fields.CPTCodes)),
	)
	return &port.Extraction{ParsedFields: fields, ParsingSource: SourceLLM}, nil
}

// normalize fills empty collections and the notes the model left out
func normalize(f *port.ParsedFields) {
	if f.Identifiers == nil {
		f.Identifiers = []port.Identifier{}
	}
	if f.DenialCodes == nil {
		f.DenialCodes = []string{}
	}
	if f.CPTCodes == nil {
		f.CPTCodes = []string{}
	}
	if f.PolicyReferences == nil {
		f.PolicyReferences = []string{}
	}
	if f.ExtractionNotes == nil {
		f.ExtractionNotes = map[string]bool{
			NoteClaimID:        f.ClaimID != "",
			NotePatientName:    f.PatientName != "",
			NotePatientAddress: f.PatientAddress != "" && f.PatientAddress != "UNKNOWN",
			NoteIdentifiers:    len(f.Identifiers) > 0,
			NoteDenialCodes:    len(f.DenialCodes) > 0,
			NoteCPTCodes:       len(f.CPTCodes) > 0,
			NoteDenialReason:   f.DenialReasonText != "" && f.DenialReasonText != NoReasonFound,
		}
	}
}

func buildExtractionPrompt(text string) string {
	if len(text) > maxPromptChars {
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return fmt.Sprintf(`Extract the following fields from this claim denial letter.

DENIAL LETTER:
%s

Return a JSON object with this exact structure:
{
  "claim_id": "string",
  "patient_name": "string",
  "patient_address": "string, or UNKNOWN",
  "identifiers": [{"label": "member_id | group_number | service_date | insurer | npi", "value": "string"}],
  "denial_codes": ["CARC/RARC codes such as CO-50 or N115"],
  "cpt_codes": ["five character CPT or HCPCS codes"],
  "policy_references": ["policy or bulletin names cited"],
  "denial_reason_text": "the stated reason, or %q",
  "extraction_notes": {
    "claim_id_found": bool,
    "patient_name_found": bool,
    "patient_address_found": bool,
    "identifiers_found": bool,
    "denial_codes_found": bool,
    "cpt_codes_found": bool,
    "denial_reason_found": bool
  }
}

IMPORTANT:
- Extract EXACTLY what you see. Do not guess or make up values.
- Use empty strings and empty arrays for anything not present.`, text, NoReasonFound)
}

// extractJSON returns the first balanced JSON object in content
func extractJSON(content string) string {
	start := -1
	for i := 0; i < len(content); i++ {
		if content[i] == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

var _ port.Extractor = (*LLMExtractor)(nil)
