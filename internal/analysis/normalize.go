package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var trailingCommaPattern = regexp.MustCompile(`,(\s*[}\]])`)

var legacyStatuses = map[string]Status{
	"APPROVED":     StatusApproved,
	"APPROVE":      StatusApproved,
	"COMPLETE":     StatusApproved,
	"DENIED":       StatusDenied,
	"DENY":         StatusDenied,
	"INVALID":      StatusDenied,
	"NEEDS_REVIEW": StatusNeedsReview,
	"NEED_REVIEW":  StatusNeedsReview,
	"REVIEW":       StatusNeedsReview,
	"INCOMPLETE":   StatusNeedsReview,
	"OCR_REQUIRED": StatusOCRRequired,
	"TIMEOUT":      StatusTimeout,
	"ERROR":        StatusError,
}

// Normalize turns raw backend output into a Result. It never fails: output
// that cannot be parsed becomes an ERROR result carrying the raw text.
func Normalize(raw string) Result {
	r, err := ParseResult(raw)
	if err != nil {
		out := errorResult(fmt.Sprintf("could not parse backend response: %v", err))
		out.RawResponse = raw
		return out
	}
	return r
}

// ParseResult strictly parses raw backend output. Missing numeric fields
// default to 0, lists to empty, extracted_data to an empty map.
func ParseResult(raw string) (Result, error) {
	body := stripWrapping(raw)
	if body == "" {
		return Result{}, errors.New("empty response")
	}
	var rec rawRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		repaired := trailingCommaPattern.ReplaceAllString(body, "$1")
		if repaired == body {
			return Result{}, fmt.Errorf("invalid json: %w", err)
		}
		rec = rawRecord{}
		if err2 := json.Unmarshal([]byte(repaired), &rec); err2 != nil {
			return Result{}, fmt.Errorf("invalid json: %w", err)
		}
	}

	status, err := parseStatus(rec)
	if err != nil {
		return Result{}, err
	}
	out := emptyResult(status)
	out.ConfidenceLevel = firstSet(rec.ConfidenceLevel, rec.Confidence).value()
	out.CompletenessScore = firstSet(rec.CompletenessScore, rec.Completeness).value()
	out.DecisionReasoning = string(rec.DecisionReasoning)
	out.ProcessingNotes = string(rec.ProcessingNotes)
	out.KeyFactors = rec.KeyFactors.list()
	out.MissingSections = rec.MissingSections.list()
	out.FoundSections = rec.FoundSections.list()
	out.Recommendations = rec.Recommendations.list()
	if len(rec.DataQualityIssues) > 0 {
		out.DataQualityIssues = []DataQualityIssue(rec.DataQualityIssues)
	}
	if len(rec.ValidationErrors) > 0 {
		out.ValidationErrors = []ValidationError(rec.ValidationErrors)
	}
	out.ExtractedData = canonicalExtractedData(rec.ExtractedData)
	if status == StatusOCRRequired {
		out.OCRRequired = true
	}
	return out, nil
}

// stripWrapping removes a BOM, code fences and any prose around the outermost
// JSON object. Applying it to its own output is a no-op.
func stripWrapping(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

func parseStatus(rec rawRecord) (Status, error) {
	raw := strings.TrimSpace(string(rec.Status))
	if raw == "" {
		raw = strings.TrimSpace(string(rec.OverallStatus))
	}
	if raw == "" {
		return "", errors.New("response has no status")
	}
	key := strings.ToUpper(raw)
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

func canonicalExtractedData(in map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := canonicalFieldName(k)
		if key == "" {
			continue
		}
		val, ok := scalarText(v)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		out[key] = val
	}
	return out
}

func canonicalFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
	return strings.Trim(s, "_")
}

// scalarText renders a JSON value as text. ok is false for null.
func scalarText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return string(v), true
		}
		return buf.String(), true
	default:
		return string(v), true
	}
}

type rawRecord struct {
	Status            flexString                 `json:"status"`
	OverallStatus     flexString                 `json:"overall_status"`
	ConfidenceLevel   flexInt                    `json:"confidence_level"`
	Confidence        flexInt                    `json:"confidence"`
	CompletenessScore flexInt                    `json:"completeness_score"`
	Completeness      flexInt                    `json:"completeness"`
	DecisionReasoning flexString                 `json:"decision_reasoning"`
	KeyFactors        flexStrings                `json:"key_factors"`
	MissingSections   flexStrings                `json:"missing_sections"`
	FoundSections     flexStrings                `json:"found_sections"`
	DataQualityIssues flexIssues                 `json:"data_quality_issues"`
	ValidationErrors  flexValidationErrors       `json:"validation_errors"`
	Recommendations   flexStrings                `json:"recommendations"`
	ExtractedData     map[string]json.RawMessage `json:"extracted_data"`
	ProcessingNotes   flexString                 `json:"processing_notes"`
}

// flexInt accepts numbers or numeric strings such as "85" and "85%",
// clamped to 0..100.
type flexInt struct {
	n   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	text, ok := scalarText(b)
	if !ok {
		return nil
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "%"))
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	f.n = int(math.Round(math.Max(0, math.Min(100, v))))
	f.set = true
	return nil
}

func (f flexInt) value() int { return f.n }

func firstSet(vals ...flexInt) flexInt {
	for _, v := range vals {
		if v.set {
			return v
		}
	}
	return flexInt{}
}

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items flexStrings
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*f = flexString(strings.Join(items, "; "))
		return nil
	}
	text, _ := scalarText(b)
	*f = flexString(text)
	return nil
}

// flexStrings accepts an array of values or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = nil
		return nil
	}
	if b[0] != '[' {
		text, ok := scalarText(b)
		if ok && strings.TrimSpace(text) != "" {
			*f = flexStrings{text}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(items))
	for _, item := range items {
		text, ok := scalarText(item)
		if ok && strings.TrimSpace(text) != "" {
			out = append(out, text)
		}
	}
	*f = out
	return nil
}

func (f flexStrings) list() []string {
	if f == nil {
		return []string{}
	}
	return []string(f)
}

type flexValidationErrors []ValidationError

func (f *flexValidationErrors) UnmarshalJSON(b []byte) error {
	items, err := rawItems(b)
	if err != nil {
		return err
	}
	out := make(flexValidationErrors, 0, len(items))
	for _, item := range items {
		if len(item) > 0 && item[0] == '{' {
			var v struct {
				Field          flexString `json:"field"`
				Error          flexString `json:"error"`
				Message        flexString `json:"message"`
				ExpectedFormat flexString `json:"expected_format"`
			}
			if err := json.Unmarshal(item, &v); err != nil {
				return err
			}
			msg := string(v.Error)
			if msg == "" {
				msg = string(v.Message)
			}
			out = append(out, ValidationError{Field: string(v.Field), Error: msg, ExpectedFormat: string(v.ExpectedFormat)})
			continue
		}
		if text, ok := scalarText(item); ok && text != "" {
			out = append(out, ValidationError{Error: text})
		}
	}
	*f = out
	return nil
}

type flexIssues []DataQualityIssue

func (f *flexIssues) UnmarshalJSON(b []byte) error {
	items, err := rawItems(b)
	if err != nil {
		return err
	}
	out := make(flexIssues, 0, len(items))
	for _, item := range items {
		if len(item) > 0 && item[0] == '{' {
			var v struct {
				Section  flexString `json:"section"`
				Issue    flexString `json:"issue"`
				Severity flexString `json:"severity"`
			}
			if err := json.Unmarshal(item, &v); err != nil {
				return err
			}
			out = append(out, DataQualityIssue{
				Section:  string(v.Section),
				Issue:    string(v.Issue),
				Severity: strings.ToUpper(strings.TrimSpace(string(v.Severity))),
			})
			continue
		}
		if text, ok := scalarText(item); ok && text != "" {
			out = append(out, DataQualityIssue{Issue: text})
		}
	}
	*f = out
	return nil
}

// rawItems splits a JSON array into elements; a lone value becomes one element.
func rawItems(b []byte) ([]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	if b[0] != '[' {
		return []json.RawMessage{b}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = bytes.TrimSpace(items[i])
	}
	return items, nil
}
