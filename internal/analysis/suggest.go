package analysis

import "strings"

const templateRecommendation = "Consider using a standardized claim form template to ensure all required sections are included."

type PriorityFix struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Expected    string `json:"expected"`
}

type Improvement struct {
	Section     string `json:"section"`
	Improvement string `json:"improvement"`
	Severity    string `json:"severity"`
}

type Suggestions struct {
	PriorityFixes           []PriorityFix `json:"priority_fixes"`
	OptionalImprovements    []Improvement `json:"optional_improvements"`
	TemplateRecommendations []string      `json:"template_recommendations"`
}

// Suggest derives improvement suggestions from a result. Validation errors
// come first, then missing sections; only HIGH and MEDIUM quality issues are
// listed as optional improvements.
func Suggest(r Result) Suggestions {
	out := Suggestions{
		PriorityFixes:           []PriorityFix{},
		OptionalImprovements:    []Improvement{},
		TemplateRecommendations: []string{},
	}
	for _, ve := range r.ValidationErrors {
		out.PriorityFixes = append(out.PriorityFixes, PriorityFix{
			Type:        "validation_error",
			Description: "Fix " + orDefault(ve.Field, "unknown field") + ": " + orDefault(ve.Error, "unknown error"),
			Expected:    orDefault(ve.ExpectedFormat, "correct format"),
		})
	}
	for _, section := range r.MissingSections {
		out.PriorityFixes = append(out.PriorityFixes, PriorityFix{
			Type:        "missing_section",
			Description: "Add missing section: " + section,
			Expected:    "Complete section with all required fields",
		})
	}
	for _, issue := range r.DataQualityIssues {
		sev := strings.ToUpper(strings.TrimSpace(issue.Severity))
		if sev != "HIGH" && sev != "MEDIUM" {
			continue
		}
		out.OptionalImprovements = append(out.OptionalImprovements, Improvement{
			Section:     orDefault(issue.Section, "unknown"),
			Improvement: orDefault(issue.Issue, "unknown issue"),
			Severity:    sev,
		})
	}
	if r.CompletenessScore < 70 {
		out.TemplateRecommendations = append(out.TemplateRecommendations, templateRecommendation)
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
