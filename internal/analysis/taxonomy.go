package analysis

import (
	"strings"
	"unicode/utf8"
)

// OCRUnavailableMarker prefixes extractor output when an image could not be read.
const OCRUnavailableMarker = "[OCR_UNAVAILABLE]"

const truncationMarker = "\n\n[TRUNCATED]"

// DefaultMaxDocumentChars bounds the text sent to any backend.
const DefaultMaxDocumentChars = 4000

// IsOCRUnavailable reports whether text is the extractor's unavailable sentinel.
func IsOCRUnavailable(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, OCRUnavailableMarker) ||
		strings.HasPrefix(t, "[IMAGE UPLOAD DETECTED - OCR NOT AVAILABLE]")
}

// truncateDocument cuts text to max runes and appends the truncation marker.
func truncateDocument(text string, max int) (string, bool) {
	text = strings.TrimSpace(text)
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i] + truncationMarker, true
		}
		n++
	}
	return text, false
}

func ocrRequiredResult() Result {
	r := emptyResult(StatusOCRRequired)
	r.MissingSections = []string{"Text extraction required"}
	r.ValidationErrors = []ValidationError{{
		Field:          "ocr",
		Error:          "OCR engine not available",
		ExpectedFormat: "Install an OCR engine or upload a text-based document",
	}}
	r.Recommendations = []string{
		"Install Tesseract OCR to extract text from images",
		"Convert image to PDF format",
		"Manually type the document content",
	}
	r.ProcessingNotes = "OCR processing required for image files"
	r.OCRRequired = true
	return r
}

func timeoutResult() Result {
	r := emptyResult(StatusTimeout)
	r.MissingSections = []string{"Analysis timed out"}
	r.ValidationErrors = []ValidationError{{
		Field:          "processing",
		Error:          "Analysis timeout - document too large or complex",
		ExpectedFormat: "smaller_document",
	}}
	r.Recommendations = []string{
		"Try with a smaller document",
		"Break large documents into sections",
		"Ensure document is properly formatted",
	}
	r.ProcessingNotes = "Analysis timed out on every backend. Document may be too large or complex for processing."
	return r
}

func errorResult(notes string) Result {
	r := emptyResult(StatusError)
	r.MissingSections = []string{"Analysis failed"}
	r.ValidationErrors = []ValidationError{{
		Field:          "system",
		Error:          "System processing error",
		ExpectedFormat: "valid_document",
	}}
	r.Recommendations = []string{"Please check the document and try again"}
	r.ProcessingNotes = notes
	if r.ProcessingNotes == "" {
		r.ProcessingNotes = "System error occurred during processing"
	}
	return r
}

func emptyResult(status Status) Result {
	return Result{
		Status:            status,
		KeyFactors:        []string{},
		MissingSections:   []string{},
		FoundSections:     []string{},
		DataQualityIssues: []DataQualityIssue{},
		ValidationErrors:  []ValidationError{},
		Recommendations:   []string{},
		ExtractedData:     map[string]string{},
	}
}
