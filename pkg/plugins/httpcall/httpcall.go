// Package httpcall provides the executor for steps of kind "http": a
// plain HTTP request described entirely by step params, with the response
// surfaced as step outputs.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/registry"
)

// Kind is the capability name this plugin serves.
const Kind = "http"

// maxResponseBytes caps how much of a response body lands in outputs.
const maxResponseBytes = 1 << 20

// Executor performs HTTP requests for http-kind steps.
type Executor struct {
	client *http.Client
}

// Option configures the executor.
type Option func(*Executor)

// WithClient substitutes the HTTP client, e.g. one with custom transport
// or tighter timeouts.
func WithClient(client *http.Client) Option {
	return func(e *Executor) {
		if client != nil {
			e.client = client
		}
	}
}

// New creates the http executor. The default client times out after 30s.
func New(opts ...Option) *Executor {
	e := &Executor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plugin wraps the executor in a registration object for Runtime.Use.
func Plugin(opts ...Option) registry.Plugin {
	return registry.Plugin{
		Name:      "httpcall",
		Version:   "1.0.0",
		Executors: []registry.Executor{New(opts...)},
	}
}

func (e *Executor) Kind() string { return Kind }

type params struct {
	Method       string            `mapstructure:"method"`
	URL          string            `mapstructure:"url"`
	Headers      map[string]string `mapstructure:"headers"`
	Body         any               `mapstructure:"body"`
	ExpectStatus int               `mapstructure:"expectStatus"`
}

// Execute performs the request. Transport errors, bad params, and
// unexpected statuses all come back as failed StepResults, never as
// error returns.
func (e *Executor) Execute(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
	result := domain.StepResult{StepID: step.ID}

	var p params
	if err := mapstructure.Decode(step.Params, &p); err != nil {
		return failed(result, fmt.Sprintf("invalid http params: %v", err)), nil
	}
	if p.URL == "" {
		return failed(result, "http step requires a url param"), nil
	}
	if p.Method == "" {
		p.Method = http.MethodGet
	}

	body, contentType, err := encodeBody(p.Body)
	if err != nil {
		return failed(result, fmt.Sprintf("invalid http body: %v", err)), nil
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.Method), p.URL, body)
	if err != nil {
		return failed(result, fmt.Sprintf("invalid http request: %v", err)), nil
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return failed(result, fmt.Sprintf("http request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failed(result, fmt.Sprintf("failed to read response: %v", err)), nil
	}

	outputs := map[string]any{
		"status":      resp.StatusCode,
		"contentType": resp.Header.Get("Content-Type"),
		"body":        decodeBody(raw, resp.Header.Get("Content-Type")),
	}

	if p.ExpectStatus != 0 && resp.StatusCode != p.ExpectStatus {
		result.Outputs = outputs
		return failed(result, fmt.Sprintf("unexpected status %d, want %d", resp.StatusCode, p.ExpectStatus)), nil
	}

	result.Status = domain.StepSucceeded
	result.Outputs = outputs
	return result, nil
}

// encodeBody turns the body param into a reader. Strings pass through
// untyped; anything else is marshalled as JSON.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		if b == "" {
			return nil, "", nil
		}
		return strings.NewReader(b), "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

// decodeBody parses JSON responses into structured output; everything
// else stays a string.
func decodeBody(raw []byte, contentType string) any {
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			return parsed
		}
	}
	return string(raw)
}

func failed(result domain.StepResult, message string) domain.StepResult {
	result.Status = domain.StepFailed
	result.Error = &domain.Error{Message: message}
	return result
}
