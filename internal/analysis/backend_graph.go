package analysis

import (
	"context"
	"encoding/json"
	"strings"
)

type graphNode string

const (
	nodePrepare     graphNode = "prepare"
	nodeAnalyze     graphNode = "analyze"
	nodeValidate    graphNode = "validate"
	nodeFinalize    graphNode = "finalize"
	nodeHandleError graphNode = "handle_error"
	nodeEnd         graphNode = "end"
)

type graphState struct {
	request  Request
	prompt   string
	raw      string
	output   string
	err      error
	failedAt graphNode
	path     []graphNode
}

// GraphBackend runs an in-process workflow: prepare, analyze, validate,
// finalize. Any node may route to handle_error, which ends the run with a
// typed error naming the failing node.
type GraphBackend struct {
	caller LLMCaller
	// observe receives the visited node path after every run. Tests only.
	observe func([]graphNode)
}

func NewGraphBackend(caller LLMCaller) *GraphBackend {
	return &GraphBackend{caller: caller}
}

func (g *GraphBackend) Name() string { return "graph" }

func (g *GraphBackend) Invoke(ctx context.Context, req Request) (string, error) {
	st := &graphState{request: req}
	node := nodePrepare
	for node != nodeEnd {
		if err := ctx.Err(); err != nil && node != nodeHandleError {
			st.fail(node, err)
			node = nodeHandleError
			continue
		}
		st.path = append(st.path, node)
		node = g.step(ctx, node, st)
	}
	if g.observe != nil {
		g.observe(st.path)
	}
	if st.err != nil {
		return "", st.err
	}
	return st.output, nil
}

func (g *GraphBackend) step(ctx context.Context, node graphNode, st *graphState) graphNode {
	switch node {
	case nodePrepare:
		if strings.TrimSpace(st.request.DocumentText) == "" {
			st.fail(node, newBackendError(g.Name(), KindClient, "document text is empty"))
			return nodeHandleError
		}
		if g.caller == nil {
			st.fail(node, newBackendError(g.Name(), KindUnavailable, "no llm client configured"))
			return nodeHandleError
		}
		st.prompt = BuildAnalysisPrompt(st.request)
		return nodeAnalyze
	case nodeAnalyze:
		raw, err := g.caller.GenerateJSON(ctx, st.prompt)
		if err != nil {
			st.fail(node, err)
			return nodeHandleError
		}
		st.raw = raw
		return nodeValidate
	case nodeValidate:
		if strings.TrimSpace(st.raw) == "" {
			st.fail(node, newBackendError(g.Name(), KindEmpty, "llm returned empty content"))
			return nodeHandleError
		}
		body := stripWrapping(st.raw)
		if !strings.HasPrefix(body, "{") || !json.Valid([]byte(body)) {
			st.fail(node, newBackendError(g.Name(), KindInvalidResponse, "llm output is not a json object"))
			return nodeHandleError
		}
		st.output = body
		return nodeFinalize
	case nodeFinalize:
		return nodeEnd
	case nodeHandleError:
		be := classifyTransportError(g.Name(), st.err)
		if be.Stage == "" {
			be.Stage = string(st.failedAt)
		}
		st.err = be
		return nodeEnd
	default:
		st.fail(node, newBackendError(g.Name(), KindServer, "unknown node %s", node))
		return nodeHandleError
	}
}

func (st *graphState) fail(node graphNode, err error) {
	st.err = err
	st.failedAt = node
}
