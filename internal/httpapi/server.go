package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shivangsoni/ClaimsAI/internal/claims"
	"github.com/shivangsoni/ClaimsAI/internal/extract"
	"github.com/shivangsoni/ClaimsAI/internal/report"
	"github.com/shivangsoni/ClaimsAI/internal/service"
)

const maxJSONBody = 1 << 20

// ClaimService is the command surface the HTTP layer drives.
type ClaimService interface {
	SubmitClaim(ctx context.Context, claimType string, attrs map[string]string) (claims.Claim, error)
	GetClaim(ctx context.Context, id string) (service.ClaimDetail, error)
	ListClaims(ctx context.Context, f claims.ListFilter) ([]claims.Claim, error)
	Stats(ctx context.Context) (service.Stats, error)
	AttachDocument(ctx context.Context, claimID, filename string, data []byte) (claims.Document, error)
	SubmitDocument(ctx context.Context, claimType, filename string, data []byte) (service.DocumentSubmission, error)
	RequestAnalysis(ctx context.Context, claimID, claimType string) (service.AnalysisOutcome, error)
	SetStatus(ctx context.Context, claimID string, req service.SetStatusRequest) (claims.StatusTransition, error)
	History(ctx context.Context, claimID string) ([]claims.StatusTransition, error)
	AnalyzeText(ctx context.Context, text, claimType string) (service.TextAnalysis, error)
	IntegrationStatus(ctx context.Context) service.IntegrationStatus
	Report(ctx context.Context, claimID string) (report.ClaimReport, error)
}

type PDFRenderer interface {
	Render(ctx context.Context, rep report.ClaimReport) ([]byte, error)
}

type Server struct {
	svc   ClaimService
	pdf   PDFRenderer
	clock func() time.Time
}

// NewServer wires the claim routes. pdf may be nil, in which case the PDF
// report route answers 503.
func NewServer(svc ClaimService, pdf PDFRenderer) http.Handler {
	s := &Server{svc: svc, pdf: pdf, clock: time.Now}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/integration/status", s.handleIntegrationStatus)
	mux.HandleFunc("/api/analyze-text", s.handleAnalyzeText)
	mux.HandleFunc("/api/documents", s.handleDocuments)
	mux.HandleFunc("/api/claims", s.handleClaims)
	mux.HandleFunc("/api/claims/", s.handleClaim)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var ce *claims.Error
	if errors.As(err, &ce) {
		status := ce.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    ce.Code,
				"message": ce.Message,
			},
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    claims.CodeInternal,
			"message": err.Error(),
		},
	})
}

func validationJSONError(err error) error {
	return claims.NewValidationError("invalid JSON body: %v", err)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return validationJSONError(err)
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return validationJSONError(err)
	}
	return nil
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "healthy", "time": s.clock().UTC()})
}

func (s *Server) handleIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.svc.IntegrationStatus(r.Context()))
}

func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Text      string `json:"text"`
		ClaimType string `json:"claim_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.svc.AnalyzeText(r.Context(), req.Text, req.ClaimType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			ClaimType  string            `json:"claim_type"`
			Attributes map[string]string `json:"attributes"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		c, err := s.svc.SubmitClaim(r.Context(), req.ClaimType, req.Attributes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "claim": c})
	case http.MethodGet:
		filter := claims.ListFilter{
			Status: claims.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
			Limit:  parseInt(r.URL.Query().Get("limit"), 0),
		}
		list, err := s.svc.ListClaims(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"claims": list, "count": len(list)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleClaim routes /api/claims/{id}[/action].
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/claims/"), "/")
	if path == "stats" {
		s.handleStats(w, r)
		return
	}
	claimID, action, _ := strings.Cut(path, "/")
	if claimID == "" || strings.Contains(action, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch action {
	case "":
		s.handleGetClaim(w, r, claimID)
	case "documents":
		s.handleUpload(w, r, claimID)
	case "analyze":
		s.handleAnalyze(w, r, claimID)
	case "status":
		s.handleSetStatus(w, r, claimID)
	case "transitions":
		s.handleTransitions(w, r, claimID)
	case "report":
		s.handleReportHTML(w, r, claimID)
	case "report.pdf":
		s.handleReportPDF(w, r, claimID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	detail, err := s.svc.GetClaim(r.Context(), claimID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// readUpload parses the multipart "document" field.
func readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, extract.MaxUploadBytes+maxJSONBody)
	if err := r.ParseMultipartForm(extract.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, claims.NewValidationError("file exceeds the %d byte upload limit", extract.MaxUploadBytes)
		}
		return "", nil, claims.NewValidationError("invalid multipart form: %v", err)
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		return "", nil, claims.NewValidationError("document file is required")
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		return "", nil, claims.NewValidationError("no file selected")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, claims.NewValidationError("read upload: %v", err)
	}
	return header.Filename, data, nil
}

// handleDocuments is the one-step intake: it opens a claim from an uploaded
// document and analyzes it.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	filename, data, err := readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.svc.SubmitDocument(r.Context(), r.FormValue("claim_type"), filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":       true,
		"claim":    out.Claim,
		"document": documentSummary(out.Document),
		"analysis": out.AnalysisOutcome,
	})
}

// handleUpload takes a multipart "document" field. With analyze=true the
// analysis runs right after the document is stored.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	filename, data, err := readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.svc.AttachDocument(r.Context(), claimID, filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	payload := map[string]any{"ok": true, "document": documentSummary(doc)}
	if r.FormValue("analyze") == "true" {
		out, err := s.svc.RequestAnalysis(r.Context(), claimID, r.FormValue("claim_type"))
		if err != nil {
			writeError(w, err)
			return
		}
		payload["analysis"] = out
	}
	writeJSON(w, http.StatusCreated, payload)
}

func documentSummary(d claims.Document) map[string]any {
	preview := d.Text
	if r := []rune(preview); len(r) > 500 {
		preview = string(r[:500]) + "..."
	}
	return map[string]any{
		"id":                d.ID,
		"claim_id":          d.ClaimID,
		"filename":          d.Filename,
		"media_type":        d.MediaType,
		"size_bytes":        d.SizeBytes,
		"extraction_method": d.ExtractionMethod,
		"ocr_required":      d.OCRRequired,
		"text_preview":      preview,
		"created_at":        d.CreatedAt,
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		ClaimType string `json:"claim_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.svc.RequestAnalysis(r.Context(), claimID, req.ClaimType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request, claimID string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req service.SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tr, err := s.svc.SetStatus(r.Context(), claimID, req)
	if err != nil {
		if errors.Is(err, claims.ErrInvalidTransition) || errors.Is(err, claims.ErrConflict) {
			log.Printf("status change rejected claim_id=%s to=%s changed_by=%s: %v", claimID, req.Status, req.ChangedBy, err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transition": tr})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	history, err := s.svc.History(r.Context(), claimID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claim_id": claimID, "transitions": history})
}

func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	rep, err := s.svc.Report(r.Context(), claimID)
	if err != nil {
		writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, report.Markdown(rep))
		return
	}
	page, err := report.RenderHTML(rep)
	if err != nil {
		writeError(w, claims.NewInternalError("render report: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request, claimID string) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	if s.pdf == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":    false,
			"error": map[string]any{"code": "unavailable", "message": "pdf rendering is not configured"},
		})
		return
	}
	rep, err := s.svc.Report(r.Context(), claimID)
	if err != nil {
		writeError(w, err)
		return
	}
	pdf, err := s.pdf.Render(r.Context(), rep)
	if errors.Is(err, report.ErrNoBrowser) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":    false,
			"error": map[string]any{"code": "unavailable", "message": err.Error()},
		})
		return
	}
	if err != nil {
		writeError(w, claims.NewInternalError("render pdf: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": "claim-" + claimID + ".pdf"}))
	_, _ = w.Write(pdf)
}
