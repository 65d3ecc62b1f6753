// Package perplexity is a client for Perplexity's search-grounded chat API,
// used for open-ended company research.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client asks research questions.
type Client interface {
	Research(ctx context.Context, req ResearchRequest) (*Answer, error)
}

// ResearchRequest is a single research question with optional system
// guidance.
type ResearchRequest struct {
	System      string
	Question    string
	MaxTokens   int
	RecencyDays int // limit sources to roughly this many days; 0 = any
}

// Answer is the model's reply plus the URLs it cited.
type Answer struct {
	Text      string
	Citations []string
	Tokens    int
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	SearchRecencyFilter string        `json:"search_recency_filter,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option { return func(c *httpClient) { c.baseURL = strings.TrimSuffix(u, "/") } }

// WithModel overrides the model.
func WithModel(model string) Option { return func(c *httpClient) { c.model = model } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *httpClient) { c.http = hc } }

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient returns a Client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.perplexity.ai",
		model:   "sonar-pro",
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func recencyFilter(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return "day"
	case days <= 7:
		return "week"
	case days <= 31:
		return "month"
	}
	return "year"
}

func (c *httpClient) Research(ctx context.Context, req ResearchRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, eris.New("perplexity: empty question")
	}
	body := chatRequest{
		Model:               c.model,
		MaxTokens:           req.MaxTokens,
		SearchRecencyFilter: recencyFilter(req.RecencyDays),
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Question})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: send request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, eris.Wrap(err, "perplexity: unmarshal response")
	}
	if len(out.Choices) == 0 {
		return nil, eris.New("perplexity: response has no choices")
	}
	return &Answer{
		Text:      out.Choices[0].Message.Content,
		Citations: out.Citations,
		Tokens:    out.Usage.TotalTokens,
	}, nil
}

// StatusError is a non-200 API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return "perplexity: status " + http.StatusText(e.Code) + ": " + body
}
