package session

import (
	"context"

	"agenticrag/internal/llm"
	"agenticrag/internal/retryx"
)

// retryingProvider wraps an llm.Provider so every Chat call goes through
// retryx.Do with the orchestrator's configured retry policy (ChatStream is
// passed through unretried; see below). This is
// the one place retry is applied: Router, Planner, Critic and Synthesizer
// all take a Provider and have no idea it retries underneath them, so a
// transient upstream error (timeout, 429, 503, connection reset) is retried
// here rather than propagating into their own parse-with-fallback paths.
type retryingProvider struct {
	inner  llm.Provider
	policy retryx.Policy
	op     string
}

// wrapProvider returns p unchanged if p is nil, otherwise a retryingProvider
// labeled op (used in retry telemetry, e.g. "router", "planner", "critic",
// "synthesizer") for logging/diagnostics.
func wrapProvider(p llm.Provider, policy retryx.Policy, op string) llm.Provider {
	if p == nil {
		return nil
	}
	return retryingProvider{inner: p, policy: policy, op: op}
}

func (p retryingProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	var resp llm.Message
	err := retryx.Do(ctx, p.op+".chat", p.policy, func(ctx context.Context) error {
		var callErr error
		resp, callErr = p.inner.Chat(ctx, msgs, tools, model)
		return callErr
	})
	return resp, err
}

// ChatStream is deliberately not retried: once OnDelta has fired, a retried
// attempt would replay tokens the caller already forwarded downstream (e.g.
// as SSE "tokens" events). A mid-stream failure surfaces to the caller as-is.
func (p retryingProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return p.inner.ChatStream(ctx, msgs, tools, model, h)
}

var _ llm.Provider = retryingProvider{}
