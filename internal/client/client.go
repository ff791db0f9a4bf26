package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/service"
)

// Client talks to a running claimsai server over its JSON API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			// analysis may walk every backend before answering
			Timeout: 3 * time.Minute,
		},
	}
}

// apiError decodes the server's error envelope. Known codes come back as
// *claims.Error so callers can match them with errors.Is.
func apiError(method, path string, status int, blob []byte) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(blob, &env); err == nil && env.Error.Code != "" {
		return &claims.Error{Code: env.Error.Code, Message: env.Error.Message, Status: status}
	}
	return fmt.Errorf("%s %s failed status=%d body=%s", method, path, status, strings.TrimSpace(string(blob)))
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return blob, apiError(method, path, resp.StatusCode, blob)
	}
	return blob, nil
}

// DoJSON sends payload (when non-nil) and decodes the response into out
// (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(blob)
		contentType = "application/json"
	}
	blob, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func claimPath(id, action string) string {
	p := "/api/claims/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) SubmitClaim(ctx context.Context, claimType string, attrs map[string]string) (claims.Claim, error) {
	var resp struct {
		Claim claims.Claim `json:"claim"`
	}
	err := c.DoJSON(ctx, http.MethodPost, "/api/claims", map[string]any{
		"claim_type": claimType,
		"attributes": attrs,
	}, &resp)
	return resp.Claim, err
}

func (c *Client) GetClaim(ctx context.Context, id string) (service.ClaimDetail, error) {
	var out service.ClaimDetail
	err := c.DoJSON(ctx, http.MethodGet, claimPath(id, ""), nil, &out)
	return out, err
}

func (c *Client) ListClaims(ctx context.Context, status claims.Status, limit int) ([]claims.Claim, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/claims"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Claims []claims.Claim `json:"claims"`
	}
	err := c.DoJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp.Claims, err
}

func (c *Client) Stats(ctx context.Context) (service.Stats, error) {
	var out service.Stats
	err := c.DoJSON(ctx, http.MethodGet, "/api/claims/stats", nil, &out)
	return out, err
}

// DocumentSummary is the document view returned by the upload routes.
type DocumentSummary struct {
	ID               string `json:"id"`
	ClaimID          string `json:"claim_id"`
	Filename         string `json:"filename"`
	MediaType        string `json:"media_type"`
	ExtractionMethod string `json:"extraction_method"`
	OCRRequired      bool   `json:"ocr_required"`
	TextPreview      string `json:"text_preview"`
}

// UploadResult is the upload response. Analysis is set only when the
// upload asked for an immediate analysis.
type UploadResult struct {
	Document DocumentSummary          `json:"document"`
	Analysis *service.AnalysisOutcome `json:"analysis,omitempty"`
}

// SubmissionResult is the response of the one-step document intake.
type SubmissionResult struct {
	Claim    claims.Claim            `json:"claim"`
	Document DocumentSummary         `json:"document"`
	Analysis service.AnalysisOutcome `json:"analysis"`
}

func (c *Client) postDocument(ctx context.Context, path, filename string, data []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if v != "" {
			_ = mw.WriteField(k, v)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	blob, err := c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode upload response: %w", err)
	}
	return nil
}

func (c *Client) UploadDocument(ctx context.Context, claimID, filename string, data []byte, analyze bool, claimType string) (UploadResult, error) {
	fields := map[string]string{}
	if analyze {
		fields["analyze"] = "true"
		fields["claim_type"] = claimType
	}
	var out UploadResult
	err := c.postDocument(ctx, claimPath(claimID, "documents"), filename, data, fields, &out)
	return out, err
}

// SubmitDocument opens a new claim from a document in one request.
func (c *Client) SubmitDocument(ctx context.Context, filename string, data []byte, claimType string) (SubmissionResult, error) {
	var out SubmissionResult
	err := c.postDocument(ctx, "/api/documents", filename, data, map[string]string{"claim_type": claimType}, &out)
	return out, err
}

func (c *Client) Analyze(ctx context.Context, claimID, claimType string) (service.AnalysisOutcome, error) {
	var out service.AnalysisOutcome
	err := c.DoJSON(ctx, http.MethodPost, claimPath(claimID, "analyze"), map[string]string{"claim_type": claimType}, &out)
	return out, err
}

func (c *Client) SetStatus(ctx context.Context, claimID string, req service.SetStatusRequest) (claims.StatusTransition, error) {
	var resp struct {
		Transition claims.StatusTransition `json:"transition"`
	}
	err := c.DoJSON(ctx, http.MethodPut, claimPath(claimID, "status"), req, &resp)
	return resp.Transition, err
}

func (c *Client) History(ctx context.Context, claimID string) ([]claims.StatusTransition, error) {
	var resp struct {
		Transitions []claims.StatusTransition `json:"transitions"`
	}
	err := c.DoJSON(ctx, http.MethodGet, claimPath(claimID, "transitions"), nil, &resp)
	return resp.Transitions, err
}

// ReportMarkdown fetches the claim report as markdown.
func (c *Client) ReportMarkdown(ctx context.Context, claimID string) (string, error) {
	blob, err := c.do(ctx, http.MethodGet, claimPath(claimID, "report")+"?format=markdown", "", nil)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}
