// Package openaiembed implements kbase.EmbeddingProvider for any
// OpenAI-compatible embeddings API.
//
// Works with OpenAI, Azure OpenAI, Ollama, vLLM, LM Studio, Together,
// Mistral, and any other service that implements the /embeddings endpoint.
package openaiembed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	kbase "github.com/nevindra/kbase"
)

// Provider calls the OpenAI-compatible embeddings endpoint.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
	name       string
}

var _ kbase.EmbeddingProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithName overrides the provider name (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates an embedding provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /embeddings path is appended
// automatically. dimensions is the vector length the model produces;
// it is reported to callers and not sent to the API.
func New(apiKey, model, baseURL string, dimensions int, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
		client:     &http.Client{},
		name:       "openai",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Dimensions returns the configured embedding dimensionality.
func (p *Provider) Dimensions() int { return p.dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends all texts in one request and returns the vectors in input
// order. HTTP failures surface as *kbase.ErrHTTP so the retry loop can
// classify them and honor Retry-After.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.httpErr(resp)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("embed response: got %d embeddings for %d inputs", len(er.Data), len(texts))
	}

	// The API reports an index per embedding; order by it rather than
	// trusting response order.
	sort.Slice(er.Data, func(i, j int) bool { return er.Data[i].Index < er.Data[j].Index })
	vectors := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// httpErr reads the response body and returns an ErrHTTP for retry
// classification. Parses the Retry-After header when present (429/503).
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &kbase.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: kbase.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
