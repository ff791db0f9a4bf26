package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
	"github.com/shivangsoni/ClaimsAI/internal/config"
	"github.com/shivangsoni/ClaimsAI/internal/httpapi"
)

type cannedCaller struct{ reply string }

func (c cannedCaller) GenerateJSON(context.Context, string) (string, error) { return c.reply, nil }

const approvedReply = `{"status":"APPROVED","confidence_level":90,"completeness_score":100,` +
	`"decision_reasoning":"complete","key_factors":["itemized"],"validation_errors":[]}`

func stubCaller(t *testing.T) {
	t.Helper()
	prev := callerFactory
	callerFactory = func(config.Config) (analysis.LLMCaller, error) {
		return cannedCaller{reply: approvedReply}, nil
	}
	t.Cleanup(func() { callerFactory = prev })
}

func loadTestConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	for k, val := range env {
		t.Setenv(k, val)
	}
	cfg, err := config.Load(config.New(""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestBuildAppWiresConfiguredBackends(t *testing.T) {
	stubCaller(t)
	cfg := loadTestConfig(t, map[string]string{
		"CLAIMSAI_BACKENDS":       "graph,flow,chain",
		"CLAIMSAI_FLOW_URL":       "http://127.0.0.1:1",
		"CLAIMSAI_FLOW_ID":        "claims",
		"CLAIMSAI_TELEMETRY_MODE": "none",
		"CLAIMSAI_DB_PATH":        filepath.Join(t.TempDir(), "claims.db"),
	})

	a, err := buildApp(t.Context(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.close(context.Background())

	if got := a.orch.BackendNames(); !reflect.DeepEqual(got, []string{"graph", "flow", "chain"}) {
		t.Fatalf("backend order=%v", got)
	}
	if a.orch.Cache() == nil {
		t.Fatal("expected a result cache with the default ttl")
	}

	claim, err := a.service.SubmitClaim(t.Context(), "", map[string]string{"member": "M-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := a.service.AttachDocument(t.Context(), claim.ID, "claim.txt", []byte("Provider: Dr. Smith\nTotal: $120")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	out, err := a.service.RequestAnalysis(t.Context(), claim.ID, "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.Record.Result.Status != analysis.StatusApproved {
		t.Fatalf("status=%s", out.Record.Result.Status)
	}
}

func TestBuildAppRequiresProviderKey(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{
		"ANTHROPIC_API_KEY":       "",
		"CLAIMSAI_TELEMETRY_MODE": "none",
	})
	cfg.AnthropicAPIKey = ""
	if _, err := buildApp(t.Context(), cfg); err == nil || !strings.Contains(err.Error(), "anthropic") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestBuildAppFlowOnlySkipsProvider(t *testing.T) {
	cfg := loadTestConfig(t, map[string]string{
		"CLAIMSAI_BACKENDS":       "flow",
		"CLAIMSAI_FLOW_URL":       "http://127.0.0.1:1",
		"CLAIMSAI_FLOW_ID":        "claims",
		"CLAIMSAI_TELEMETRY_MODE": "none",
		"CLAIMSAI_CACHE_TTL":      "0s",
	})
	a, err := buildApp(t.Context(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.close(context.Background())
	if a.orch.Cache() != nil {
		t.Fatal("zero ttl should skip the cache")
	}
}

func TestAnalyzeCommandPrintsJSON(t *testing.T) {
	stubCaller(t)
	t.Setenv("CLAIMSAI_TELEMETRY_MODE", "none")
	path := filepath.Join(t.TempDir(), "claim.txt")
	if err := os.WriteFile(path, []byte("Patient: Jane Doe\nAmount: $80"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"analyze", path, "--claim-type", "pharmacy_claim"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got struct {
		Analysis struct {
			Status string `json:"status"`
		} `json:"document_analysis"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if got.Analysis.Status != "APPROVED" {
		t.Fatalf("status=%q", got.Analysis.Status)
	}
}

func TestReadDocument(t *testing.T) {
	if _, err := readDocument(t.Context(), nil, nil, ""); err == nil {
		t.Fatal("expected error without input")
	}
	if _, err := readDocument(t.Context(), nil, []string{"a.txt"}, "inline"); err == nil {
		t.Fatal("expected error for file plus --text")
	}
	got, err := readDocument(t.Context(), strings.NewReader("\ufeffhello claim"), []string{"-"}, "")
	if err != nil || got != "hello claim" {
		t.Fatalf("stdin got %q err=%v", got, err)
	}
}

func TestConfigShowHidesSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-secret")
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"config", "show"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(out.String(), "sk-ant-secret") {
		t.Fatal("api key leaked into config output")
	}
	if !strings.Contains(out.String(), "backend_timeout: 45s") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "claimsai ") {
		t.Fatalf("got %q", out.String())
	}
}

func TestClaimCommandsTalkToServer(t *testing.T) {
	stubCaller(t)
	t.Setenv("CLAIMSAI_TELEMETRY_MODE", "none")
	a, err := buildApp(t.Context(), loadTestConfig(t, nil))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.close(context.Background())
	srv := httptest.NewServer(httpapi.NewServer(a.service, nil))
	defer srv.Close()

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs(append(args, "--server", srv.URL))
		if err := root.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	var claim struct {
		ID         string            `json:"id"`
		Status     string            `json:"status"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.Unmarshal([]byte(run("claim", "submit", "--attr", "member=M-1")), &claim); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if claim.Status != "open" || claim.Attributes["member"] != "M-1" {
		t.Fatalf("claim=%+v", claim)
	}

	doc := filepath.Join(t.TempDir(), "claim.txt")
	if err := os.WriteFile(doc, []byte("Patient: Jane Doe\nAmount: $80"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("claim", "upload", claim.ID, doc, "--analyze")

	out := run("claim", "status", claim.ID, "verified", "--by", "adjuster-1", "--expect", "validation_complete")
	if !strings.Contains(out, `"to_status": "verified"`) {
		t.Fatalf("status output=%s", out)
	}
	if out := run("claim", "history", claim.ID); strings.Count(out, `"to_status"`) != 2 {
		t.Fatalf("history output=%s", out)
	}

	var intake struct {
		Claim struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"claim"`
		Document struct {
			ClaimID string `json:"claim_id"`
		} `json:"document"`
	}
	if err := json.Unmarshal([]byte(run("claim", "submit", "--document", doc)), &intake); err != nil {
		t.Fatalf("decode intake: %v", err)
	}
	if intake.Claim.Status != "validation_complete" || intake.Document.ClaimID != intake.Claim.ID {
		t.Fatalf("intake=%+v", intake)
	}
}
