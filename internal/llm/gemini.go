package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient calls the Google Gemini generateContent API.
type GeminiClient struct {
	apiKey  Secret
	baseURL string
	client  HTTPClient
	tracer  trace.Tracer
}

// NewGeminiClient creates a client for the Gemini generateContent API.
// An empty baseURL uses the production endpoint; tests point it at a fake.
func NewGeminiClient(apiKey Secret, baseURL string, client HTTPClient) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		tracer:  otel.Tracer(tracerName),
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Complete sends the prompt and concatenates the parts of the first
// candidate.
func (c *GeminiClient) Complete(ctx context.Context, model, prompt string, params Params) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "llm.gemini.complete",
		trace.WithAttributes(attribute.String("llm.model", model)))
	defer span.End()

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.maxTokens(),
		},
	})
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "llm: failed to encode gemini request")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey.Value()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeInternal, "llm: failed to build gemini request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: gemini request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: failed to read gemini response")
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(otelcodes.Error, fmt.Sprintf("status %d", resp.StatusCode))
		return nil, kerr.Newf(kerr.CodeUnavailableDependency, "llm: gemini returned status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "llm: invalid gemini response")
	}

	var out bytes.Buffer
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			out.WriteString(part.Text)
		}
	}

	res := &Result{
		Output: out.String(),
		Usage: Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
	}
	span.SetAttributes(attribute.Int("llm.tokens_used", res.Usage.Total()))
	return res, nil
}
