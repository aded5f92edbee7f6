package mldetect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	domain "github.com/bryanwahyu/apkguard/internal/domain/scans"
)

const maxTokens = 256

// ErrQuotaExceeded indicates the provider returned a quota/limit error
// (HTTP 429 or similar). The stage is optional, so this only ever lands in
// the ml sub-report's error marker.
var ErrQuotaExceeded = errors.New("ml quota exceeded")

const systemPrompt = `You are a mobile malware analyst. Given static metadata extracted ` +
	`from an Android APK, estimate the probability that the APK is malware. ` +
	`Respond with a JSON object: {"probability": <number between 0.0 and 1.0>}.`

type Client struct {
	*openai.Client
	Model string
}

func NewClient(apiKey, model string) *Client {
	return &Client{Client: openai.NewClient(apiKey), Model: model}
}

// Classify implements the MLClassifier port. Only file metadata goes to the
// provider, never artifact bytes.
func (c *Client) Classify(ctx context.Context, path string, basic *domain.BasicInfo) (float64, error) {
	model := c.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(basic)},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
			return 0, ErrQuotaExceeded
		}
		return 0, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, errors.New("empty completion response")
	}

	return parseProbability(resp.Choices[0].Message.Content)
}

func userPrompt(basic *domain.BasicInfo) string {
	if basic == nil {
		return "No metadata could be extracted from the APK."
	}
	b, _ := json.Marshal(basic)
	return fmt.Sprintf("APK static metadata:\n%s", b)
}

func parseProbability(content string) (float64, error) {
	var out struct {
		Probability float64 `json:"probability"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return 0, fmt.Errorf("parse classifier response: %w", err)
	}
	// clamp, the model occasionally wanders out of range
	if out.Probability < 0 {
		out.Probability = 0
	}
	if out.Probability > 1 {
		out.Probability = 1
	}
	return out.Probability, nil
}
