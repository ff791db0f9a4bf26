package analysis

import (
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = "You are a senior medical claims adjuster making insurance coverage decisions. Respond with strict JSON only."

const analysisPromptTemplate = `Analyze the insurance claim document below against the approved reference claim and make a coverage decision.

DOCUMENT TO ANALYZE:
%s

CLAIM TYPE: %s
%s
REFERENCE STANDARD (%s):
%s

Return a single JSON object with these fields:
- status: "APPROVED", "DENIED", or "NEEDS_REVIEW"
- decision_reasoning: 4-6 sentences explaining the evidence behind the decision
- key_factors: array of 3-5 factors that most influenced the decision
- completeness_score: integer 0-100, share of required information present
- confidence_level: integer 0-100
- missing_sections: array of required sections that are absent
- found_sections: array of sections present and complete
- data_quality_issues: array of {section, issue, severity} with severity HIGH, MEDIUM or LOW
- validation_errors: array of {field, error, expected_format}
- recommendations: array of actionable fixes
- extracted_data: object with patient_name, patient_id, policy_number, service_date, provider_name, diagnosis_code, procedure_code, billed_amount, service_type when present; omit fields you cannot find
- processing_notes: short summary of the analysis

Use APPROVED only when patient, provider, policy, coding and billing information is complete and consistent.
Use DENIED when critical identifiers are missing, coverage clearly does not apply, or fraud indicators are present.
Use NEEDS_REVIEW for incomplete but plausibly valid claims or cases that need a medical director.`

// BuildAnalysisPrompt renders the shared prompt used by every LLM-backed backend.
func BuildAnalysisPrompt(req Request) string {
	claimType := strings.TrimSpace(req.ClaimType)
	if claimType == "" {
		claimType = req.ProfileName
	}
	return fmt.Sprintf(analysisPromptTemplate, req.DocumentText, claimType, claimContextBlock(req.ClaimContext), req.ProfileName, req.Profile)
}

// claimContextBlock lists the claim attributes in key order, or returns an
// empty string when there are none.
func claimContextBlock(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("\nCLAIM CONTEXT (submitted with the claim; check it against the document):\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", strings.TrimSpace(k), strings.TrimSpace(attrs[k]))
	}
	return b.String()
}
