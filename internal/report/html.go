package report

import (
	_ "embed"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/shivangsoni/ClaimsAI/internal/claims"
)

//go:embed style.css
var styleCSS string

var (
	reHistoryHeading = regexp.MustCompile(`(?i)<h2([^>]*)>\s*Transition History\s*</h2>`)
	reAnalysisTable  = regexp.MustCompile(`<table>`)
)

var markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML renders the claim report as a standalone HTML page.
func RenderHTML(r ClaimReport) (string, error) {
	var content strings.Builder
	if err := markdownRenderer.Convert([]byte(Markdown(r)), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Claim " + html.EscapeString(r.Claim.ID) + "</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + metaHTML(r) + "</div>" +
		"<div class='report-badges'>" + badgeHTML(r) + "</div>" +
		"</div><div class='report-html'>" + applyPrintLayoutHooks(content.String()) + "</div></section>" +
		"</body></html>", nil
}

func applyPrintLayoutHooks(contentHTML string) string {
	out := reHistoryHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">Transition History</h2>`)
	return reAnalysisTable.ReplaceAllString(out, `<table class="claim-table">`)
}

func metaHTML(r ClaimReport) string {
	var out strings.Builder
	out.WriteString("<div><strong>Claim:</strong> " + html.EscapeString(r.Claim.ID) + "</div>")
	if r.Claim.ClaimType != "" {
		out.WriteString("<div><strong>Type:</strong> " + html.EscapeString(r.Claim.ClaimType) + "</div>")
	}
	if !r.GeneratedAt.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(r.GeneratedAt.UTC().Format("January 2, 2006 at 3:04 PM MST")) + "</div>")
	}
	return out.String()
}

func badgeHTML(r ClaimReport) string {
	var out strings.Builder
	class := "report-badge"
	switch r.Claim.Status {
	case claims.StatusApproved:
		class += " approved"
	case claims.StatusDenied:
		class += " denied"
	}
	out.WriteString("<span class='" + class + "'>" + html.EscapeString(string(r.Claim.Status)) + "</span>")
	if rec, ok := r.LatestAnalysis(); ok {
		out.WriteString("<span class='report-badge'>AI: " + html.EscapeString(string(rec.Result.Status)) + "</span>")
	}
	return out.String()
}
