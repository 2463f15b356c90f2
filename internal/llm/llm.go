// Package llm calls the model providers that execute skills. A skill names
// its model; the router picks the provider from the model name (gemini*
// goes to Google, everything else to Anthropic) so a skill can switch
// providers by editing one field.
package llm

import (
	"context"
	"net/http"
	"strings"
	"time"

	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/kijko-dev/kijko-api/internal/llm"

// defaultTimeout bounds one model call end to end. Model responses can take
// minutes on long prompts, so this is much larger than ordinary HTTP calls.
const defaultTimeout = 120 * time.Second

// defaultMaxTokens caps the completion when the skill does not set one.
const defaultMaxTokens = 4096

// maxResponseSize bounds provider response bodies.
const maxResponseSize = 10 << 20

// HTTPClient abstracts the HTTP transport for provider calls so tests can
// inject fakes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Secret holds a provider API key and redacts itself when formatted.
type Secret string

const secretRedacted = "[REDACTED]"

func (s Secret) String() string   { return secretRedacted }
func (s Secret) GoString() string { return "llm.Secret(" + secretRedacted + ")" }

// Value returns the actual key for request headers.
func (s Secret) Value() string { return string(s) }

// MarshalText redacts the key in any text or JSON serialization.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(secretRedacted), nil
}

// Params tune one completion request.
type Params struct {
	MaxTokens   int
	Temperature float64
}

func (p Params) maxTokens() int {
	if p.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return p.MaxTokens
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the combined token count billed for the call.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Result is the outcome of one completion.
type Result struct {
	Output string
	Usage  Usage
}

// Client generates a completion from one provider.
type Client interface {
	Complete(ctx context.Context, model, prompt string, params Params) (*Result, error)
}

// Router dispatches completions to the provider owning the model name.
type Router struct {
	anthropic Client
	gemini    Client
}

// NewRouter builds a Router. Either client may be nil when its API key is
// not configured; requests routed to a nil client fail with a
// configuration error.
func NewRouter(anthropic, gemini Client) *Router {
	return &Router{anthropic: anthropic, gemini: gemini}
}

// Complete routes the request on the model name prefix.
func (r *Router) Complete(ctx context.Context, model, prompt string, params Params) (*Result, error) {
	if strings.HasPrefix(model, "gemini") {
		if r.gemini == nil {
			return nil, kerr.New(kerr.CodeInternalConfiguration, "llm: gemini API key not configured")
		}
		return r.gemini.Complete(ctx, model, prompt, params)
	}
	if r.anthropic == nil {
		return nil, kerr.New(kerr.CodeInternalConfiguration, "llm: anthropic API key not configured")
	}
	return r.anthropic.Complete(ctx, model, prompt, params)
}
