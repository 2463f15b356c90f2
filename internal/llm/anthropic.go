package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	// anthropicVersion pins the messages API revision.
	anthropicVersion = "2023-06-01"
)

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	apiKey  Secret
	baseURL string
	client  HTTPClient
	tracer  trace.Tracer
}

// NewAnthropicClient creates a client for the Anthropic messages API.
// An empty baseURL uses the production endpoint; tests point it at a fake.
func NewAnthropicClient(apiKey Secret, baseURL string, client HTTPClient) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		tracer:  otel.Tracer(tracerName),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one user message and concatenates the text blocks of the
// reply.
func (c *AnthropicClient) Complete(ctx context.Context, model, prompt string, params Params) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "llm.anthropic.complete",
		trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   params.maxTokens(),
		Temperature: params.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "llm: failed to encode anthropic request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "llm: failed to build anthropic request")
	}
	req.Header.Set("x-api-key", c.apiKey.Value())
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: anthropic request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: failed to read anthropic response")
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(otelcodes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return nil, kerr.Newf(kerr.CodeUnavailableDependency, "llm: anthropic returned status %d", resp.StatusCode)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: invalid anthropic response")
	}

	var out bytes.Buffer
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	res := &Result{
		Output: out.String(),
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}
	span.SetAttributes(attribute.Int("llm.tokens_used", res.Usage.Total()))
	return res, nil
}
