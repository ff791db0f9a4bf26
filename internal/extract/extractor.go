package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shivangsoni/ClaimsAI/internal/analysis"
)

const (
	MaxUploadBytes = 16 * 1024 * 1024
	maxTextRun     = 200000
)

var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrTooLarge        = errors.New("document exceeds upload limit")
	ErrNoText          = errors.New("no extractable text found")
)

var mediaTypes = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
	"txt":  "text/plain",
}

var imageTypes = map[string]bool{"png": true, "jpg": true, "jpeg": true, "tiff": true, "bmp": true}

type Result struct {
	Text        string
	Method      string
	Kind        string
	MediaType   string
	OCRRequired bool
	Truncated   bool
}

// Extractor turns an uploaded blob into plain text. PDF text comes from
// pdftotext with a printable-byte fallback; images go through tesseract when
// it is installed and otherwise yield the OCR-unavailable sentinel.
type Extractor struct {
	PDFToText string
	Tesseract string

	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func New() *Extractor {
	return &Extractor{
		PDFToText: "pdftotext",
		Tesseract: "tesseract",
		lookPath:  exec.LookPath,
		run:       runCommand,
	}
}

// Kind resolves a file name, bare extension or media type to a supported
// document kind.
func Kind(declared string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(declared))
	if d == "" {
		return "", false
	}
	if strings.Contains(d, "/") {
		d = strings.TrimSpace(strings.SplitN(d, ";", 2)[0])
		for ext, mt := range mediaTypes {
			if mt == d {
				if ext == "jpeg" {
					return "jpg", true
				}
				return ext, true
			}
		}
		return "", false
	}
	if ext := filepath.Ext(d); ext != "" {
		d = strings.TrimPrefix(ext, ".")
	}
	_, ok := mediaTypes[d]
	return d, ok
}

func MediaType(kind string) string {
	return mediaTypes[kind]
}

func (e *Extractor) Extract(ctx context.Context, data []byte, declaredType string) (Result, error) {
	kind, ok := Kind(declaredType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedType, declaredType)
	}
	if len(data) > MaxUploadBytes {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	res := Result{Kind: kind, MediaType: mediaTypes[kind]}
	var err error
	switch {
	case kind == "txt":
		res.Text, res.Method = decodeText(data), "text"
	case kind == "pdf":
		res.Text, res.Method, err = e.extractPDF(ctx, data)
	case imageTypes[kind]:
		res.Text, res.Method, res.OCRRequired = e.extractImage(ctx, data, kind)
	}
	if err != nil {
		return Result{}, err
	}
	res.Text, res.Truncated = truncateExtraction(res.Text)
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, ErrNoText
	}
	return res, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (string, string, error) {
	path, cleanup, err := writeTemp(data, "pdf")
	if err != nil {
		return "", "", err
	}
	defer cleanup()

	out, err := e.run(ctx, e.pdfToText(), "-layout", path, "-")
	if err == nil && strings.TrimSpace(string(out)) != "" {
		return string(out), "pdftotext", nil
	}
	if err != nil {
		log.Printf("extract pdftotext failed, using byte fallback: %v", err)
	}
	fallback := extractPrintableText(data)
	if strings.TrimSpace(fallback) == "" {
		return "", "", ErrNoText
	}
	return fallback, "byte-fallback", nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte, kind string) (string, string, bool) {
	bin, err := e.lookPath(e.tesseract())
	if err != nil {
		return ocrUnavailable("no OCR engine installed"), "none", true
	}
	path, cleanup, err := writeTemp(data, kind)
	if err != nil {
		return ocrUnavailable(err.Error()), "none", true
	}
	defer cleanup()

	out, err := e.run(ctx, bin, path, "stdout")
	if err != nil {
		log.Printf("extract ocr failed kind=%s: %v", kind, err)
		return ocrUnavailable("OCR engine failed"), "none", true
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return ocrUnavailable("OCR found no text"), "tesseract", true
	}
	return text, "tesseract", false
}

func (e *Extractor) pdfToText() string {
	if strings.TrimSpace(e.PDFToText) == "" {
		return "pdftotext"
	}
	return e.PDFToText
}

func (e *Extractor) tesseract() string {
	if strings.TrimSpace(e.Tesseract) == "" {
		return "tesseract"
	}
	return e.Tesseract
}

func ocrUnavailable(detail string) string {
	return analysis.OCRUnavailableMarker + " " + detail +
		"\n\nThis appears to be an image file that requires OCR to extract text. Install Tesseract OCR or upload a PDF or text version of the document."
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func writeTemp(data []byte, ext string) (string, func(), error) {
	f, err := os.CreateTemp("", "claimsai-*."+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "")
}

func extractPrintableText(blob []byte) string {
	var runs []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if len(s) >= 24 {
			runs = append(runs, s)
		}
		b.Reset()
	}
	for _, c := range blob {
		r := rune(c)
		if r < utf8.RuneSelf && (unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r') {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(strings.Join(runs, "\n"))
}

func truncateExtraction(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= maxTextRun {
		return trimmed, false
	}
	prefix := trimmed[:maxTextRun]
	for !utf8.ValidString(prefix) {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + "\n\n[TRUNCATED]", true
}
