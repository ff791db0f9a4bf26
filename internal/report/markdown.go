package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
	"github.com/shivangsoni/ClaimsAI/internal/claims"
)

// ClaimReport is everything known about one claim at render time.
type ClaimReport struct {
	Claim       claims.Claim
	Documents   []claims.Document
	Analyses    []claims.AnalysisRecord
	Transitions []claims.StatusTransition
	GeneratedAt time.Time
}

// LatestAnalysis returns the most recent analysis run, if any.
func (r ClaimReport) LatestAnalysis() (claims.AnalysisRecord, bool) {
	if len(r.Analyses) == 0 {
		return claims.AnalysisRecord{}, false
	}
	return r.Analyses[len(r.Analyses)-1], true
}

func Markdown(r ClaimReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Claim Report: %s\n\n", r.Claim.ID)

	b.WriteString("| Field | Value |\n|---|---|\n")
	row(&b, "Claim type", r.Claim.ClaimType)
	row(&b, "Status", string(r.Claim.Status))
	row(&b, "Submitted", formatTime(r.Claim.CreatedAt))
	row(&b, "Last updated", formatTime(r.Claim.UpdatedAt))
	row(&b, "Documents", fmt.Sprintf("%d", len(r.Documents)))
	keys := make([]string, 0, len(r.Claim.Attributes))
	for k := range r.Claim.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row(&b, humanize(k), r.Claim.Attributes[k])
	}
	b.WriteString("\n")

	rec, ok := r.LatestAnalysis()
	if !ok {
		b.WriteString("## Latest Analysis\n\nNo analysis has been run for this claim.\n\n")
	} else {
		writeAnalysis(&b, rec.Result)
		writeSuggestions(&b, analysis.Suggest(rec.Result))
	}

	b.WriteString("## Transition History\n\n")
	if len(r.Transitions) == 0 {
		b.WriteString("No status changes recorded.\n")
	} else {
		b.WriteString("| When | From | To | Changed by | Reason |\n|---|---|---|---|---|\n")
		for _, t := range r.Transitions {
			by := t.ChangedBy
			if t.AISuggested {
				by += " (AI suggested)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				formatTime(t.CreatedAt), t.FromStatus, t.ToStatus, cell(by), cell(t.Reason))
		}
	}
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "\n_Generated %s_\n", formatTime(r.GeneratedAt))
	}
	return b.String()
}

func writeAnalysis(b *strings.Builder, res analysis.Result) {
	b.WriteString("## Latest Analysis\n\n")
	fmt.Fprintf(b, "- **Status:** %s\n", res.Status)
	fmt.Fprintf(b, "- **Confidence:** %d%%\n", res.ConfidenceLevel)
	fmt.Fprintf(b, "- **Completeness:** %d%%\n", res.CompletenessScore)
	if res.ProcessingMethod != "" {
		fmt.Fprintf(b, "- **Method:** %s\n", res.ProcessingMethod)
	}
	if res.TraceID != "" {
		fmt.Fprintf(b, "- **Trace:** `%s`\n", res.TraceID)
	}
	b.WriteString("\n")
	if strings.TrimSpace(res.DecisionReasoning) != "" {
		b.WriteString(strings.TrimSpace(res.DecisionReasoning) + "\n\n")
	}
	list(b, "Key Factors", res.KeyFactors)
	list(b, "Missing Sections", res.MissingSections)
	if len(res.ValidationErrors) > 0 {
		b.WriteString("### Validation Errors\n\n| Field | Error | Expected |\n|---|---|---|\n")
		for _, ve := range res.ValidationErrors {
			fmt.Fprintf(b, "| %s | %s | %s |\n", cell(ve.Field), cell(ve.Error), cell(ve.ExpectedFormat))
		}
		b.WriteString("\n")
	}
	if strings.TrimSpace(res.ProcessingNotes) != "" {
		fmt.Fprintf(b, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(res.ProcessingNotes), "\n", " "))
	}
}

func writeSuggestions(b *strings.Builder, s analysis.Suggestions) {
	if len(s.PriorityFixes)+len(s.OptionalImprovements)+len(s.TemplateRecommendations) == 0 {
		return
	}
	b.WriteString("## Suggestions\n\n")
	for _, f := range s.PriorityFixes {
		fmt.Fprintf(b, "- **%s:** %s (expected: %s)\n", humanize(f.Type), f.Description, f.Expected)
	}
	for _, imp := range s.OptionalImprovements {
		fmt.Fprintf(b, "- _%s_ %s: %s\n", imp.Severity, imp.Section, imp.Improvement)
	}
	for _, t := range s.TemplateRecommendations {
		fmt.Fprintf(b, "- %s\n", t)
	}
	b.WriteString("\n")
}

func list(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "### %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

func row(b *strings.Builder, k, v string) {
	if strings.TrimSpace(v) == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %s |\n", cell(k), cell(v))
}

func cell(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func humanize(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	if len(words) == 0 {
		return key
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
