// Package ai is the boundary to the language model. Callers describe the
// JSON they want and get it decoded into their own types.
package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/resilience"
	"github.com/sells-group/leadgen/pkg/anthropic"
)

// ErrUnavailable is returned when no model is configured.
var ErrUnavailable = eris.New("ai: capability unavailable")

// Prompt is one structured-output request.
type Prompt struct {
	// Purpose labels the call in logs ("expand_queries", "propose_companies").
	Purpose string
	System  string
	User    string
}

// Capability turns a prompt into JSON decoded into out. Implementations are
// unreliable: callers treat any error as scoped to their own work.
type Capability interface {
	Generate(ctx context.Context, p Prompt, out any) error
}

// Func adapts a function to Capability.
type Func func(ctx context.Context, p Prompt, out any) error

// Generate calls f.
func (f Func) Generate(ctx context.Context, p Prompt, out any) error { return f(ctx, p, out) }

// Unavailable is a Capability that always fails with ErrUnavailable.
type Unavailable struct{}

// Generate returns ErrUnavailable.
func (Unavailable) Generate(context.Context, Prompt, any) error { return ErrUnavailable }

// Claude implements Capability over the Anthropic messages API.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	guard     *resilience.Guard
}

// NewClaude wraps client. guard may be nil.
func NewClaude(client anthropic.Client, model string, maxTokens int, guard *resilience.Guard) *Claude {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Claude{client: client, model: model, maxTokens: int64(maxTokens), guard: guard}
}

// Generate sends p and decodes the first JSON value in the reply into out.
func (c *Claude) Generate(ctx context.Context, p Prompt, out any) error {
	req := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    p.System,
		Messages:  []anthropic.Message{{Role: "user", Content: p.User}},
	}

	resp, err := resilience.Run(ctx, c.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := c.client.CreateMessage(ctx, req)
		if err != nil && isRetryableAPIError(err) {
			return nil, resilience.NewTransientError(err, 0)
		}
		return resp, err
	})
	if err != nil {
		return eris.Wrapf(err, "ai: %s", p.Purpose)
	}
	resp.Usage.LogUsage(c.model, p.Purpose)

	text := CleanJSON(resp.Text())
	if text == "" {
		return eris.Errorf("ai: %s: empty reply", p.Purpose)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		zap.L().Debug("ai: undecodable reply",
			zap.String("purpose", p.Purpose),
			zap.String("reply", truncate(text, 400)),
		)
		return eris.Wrapf(err, "ai: %s: decode reply", p.Purpose)
	}
	return nil
}

func isRetryableAPIError(err error) bool {
	code := anthropic.StatusCode(err)
	return resilience.IsTransientHTTPStatus(code) || code == anthropic.StatusOverloaded || resilience.IsTransient(err)
}

// CleanJSON strips markdown fences and surrounding prose from a model reply
// and closes brackets left open by truncation.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if idx := strings.LastIndex(rest, "```"); idx >= 0 {
			rest = rest[:idx]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	text = text[start:]
	closer := byte('}')
	if text[0] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(text, closer); end > 0 {
		text = text[:end+1]
	}
	return closeOpen(text)
}

// closeOpen appends the closers for any brackets and string left open.
func closeOpen(text string) string {
	var stack []byte
	inString, escape := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escape:
			escape = false
		case inString && c == '\\':
			escape = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case (c == '}' || c == ']') && len(stack) > 0:
			stack = stack[:len(stack)-1]
		}
	}
	if inString {
		text += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		text += string(stack[i])
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
