package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type FlowConfig struct {
	BaseURL           string
	FlowID            string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Tweaks            map[string]any
	HTTPClient        *http.Client
}

// FlowBackend calls a remote flow-execution service that owns the prompt
// and model configuration.
type FlowBackend struct {
	baseURL string
	flowID  string
	apiKey  string
	tweaks  map[string]any
	client  *http.Client
	limiter *rate.Limiter
}

func NewFlowBackend(cfg FlowConfig) (*FlowBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("flow base url is required")
	}
	if strings.TrimSpace(cfg.FlowID) == "" {
		return nil, errors.New("flow id is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &FlowBackend{
		baseURL: base,
		flowID:  strings.TrimSpace(cfg.FlowID),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		tweaks:  cfg.Tweaks,
		client:  client,
		limiter: limiter,
	}, nil
}

func (f *FlowBackend) Name() string { return "flow" }

type flowRunRequest struct {
	InputValue string         `json:"input_value"`
	InputType  string         `json:"input_type"`
	OutputType string         `json:"output_type"`
	Tweaks     map[string]any `json:"tweaks,omitempty"`
}

type flowRunResponse struct {
	Outputs []struct {
		Outputs []struct {
			Results struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"results"`
			Outputs struct {
				Message struct {
					Message json.RawMessage `json:"message"`
				} `json:"message"`
			} `json:"outputs"`
		} `json:"outputs"`
	} `json:"outputs"`
}

func (f *FlowBackend) Invoke(ctx context.Context, req Request) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", classifyTransportError(f.Name(), err)
	}
	body, err := json.Marshal(flowRunRequest{
		InputValue: BuildAnalysisPrompt(req),
		InputType:  "chat",
		OutputType: "chat",
		Tweaks:     f.tweaks,
	})
	if err != nil {
		return "", newBackendError(f.Name(), KindClient, "encode request: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/api/v1/run/"+f.flowID, bytes.NewReader(body))
	if err != nil {
		return "", newBackendError(f.Name(), KindClient, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		httpReq.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(f.Name(), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", classifyTransportError(f.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &BackendError{
			Backend:    f.Name(),
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("flow run failed: %s", snippet(payload)),
		}
	}
	var out flowRunResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", newBackendError(f.Name(), KindInvalidResponse, "decode flow response: %v", err)
	}
	text := flowMessageText(out)
	if strings.TrimSpace(text) == "" {
		return "", newBackendError(f.Name(), KindEmpty, "flow response carried no message text")
	}
	return text, nil
}

// Health checks that the flow service answers.
func (f *FlowBackend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(f.Name(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &BackendError{Backend: f.Name(), Kind: kindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Err: errors.New("health check failed")}
	}
	return nil
}

func flowMessageText(out flowRunResponse) string {
	if len(out.Outputs) == 0 || len(out.Outputs[0].Outputs) == 0 {
		return ""
	}
	first := out.Outputs[0].Outputs[0]
	if t := first.Results.Message.Text; strings.TrimSpace(t) != "" {
		return t
	}
	msg := first.Outputs.Message.Message
	if len(msg) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(msg, &obj); err == nil {
		return obj.Text
	}
	return ""
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
