package analysis

import (
	"context"
	"strings"
)

// ChainBackend renders the analysis prompt locally and makes one LLM call.
type ChainBackend struct {
	caller LLMCaller
}

func NewChainBackend(caller LLMCaller) *ChainBackend {
	return &ChainBackend{caller: caller}
}

func (c *ChainBackend) Name() string { return "chain" }

func (c *ChainBackend) Invoke(ctx context.Context, req Request) (string, error) {
	if c.caller == nil {
		return "", newBackendError(c.Name(), KindUnavailable, "no llm client configured")
	}
	raw, err := c.caller.GenerateJSON(ctx, BuildAnalysisPrompt(req))
	if err != nil {
		return "", classifyTransportError(c.Name(), err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", newBackendError(c.Name(), KindEmpty, "llm returned empty content")
	}
	return raw, nil
}
