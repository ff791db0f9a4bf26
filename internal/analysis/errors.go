package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindRateLimit       ErrorKind = "rate_limit"
	KindServer          ErrorKind = "server"
	KindClient          ErrorKind = "client"
	KindUnavailable     ErrorKind = "unavailable"
	KindEmpty           ErrorKind = "empty"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindCanceled        ErrorKind = "canceled"
)

// BackendError is the typed failure every backend invocation is reduced to.
type BackendError struct {
	Backend    string
	Kind       ErrorKind
	Stage      string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString(e.Backend)
	if e.Stage != "" {
		b.WriteString(" [" + e.Stage + "]")
	}
	b.WriteString(" " + string(e.Kind))
	if e.StatusCode != 0 {
		b.WriteString(" status=" + strconv.Itoa(e.StatusCode))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Timeout() bool { return e.Kind == KindTimeout }

var statusCodePattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// classifyTransportError maps an arbitrary backend error onto a BackendError.
func classifyTransportError(backend string, err error) *BackendError {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		if be.Backend == "" {
			be.Backend = backend
		}
		return be
	}
	out := &BackendError{Backend: backend, Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindTimeout
		return out
	}
	if errors.Is(err, context.Canceled) {
		out.Kind = KindCanceled
		return out
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		out.Kind = KindTimeout
		return out
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) && antErr.StatusCode != 0 {
		out.StatusCode = antErr.StatusCode
		out.Kind = kindForStatus(antErr.StatusCode)
		return out
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		out.StatusCode = apiErr.HTTPStatusCode
		out.Kind = kindForStatus(apiErr.HTTPStatusCode)
		return out
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		out.StatusCode = reqErr.HTTPStatusCode
		out.Kind = kindForStatus(reqErr.HTTPStatusCode)
		return out
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		out.Kind = KindTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		out.Kind = KindUnavailable
	default:
		if m := statusCodePattern.FindStringSubmatch(msg); m != nil {
			code, _ := strconv.Atoi(m[1])
			out.StatusCode = code
			out.Kind = kindForStatus(code)
		} else {
			out.Kind = KindServer
		}
	}
	return out
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusServiceUnavailable || code == http.StatusBadGateway:
		return KindUnavailable
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	default:
		return KindServer
	}
}

func newBackendError(backend string, kind ErrorKind, format string, args ...any) *BackendError {
	return &BackendError{Backend: backend, Kind: kind, Err: fmt.Errorf(format, args...)}
}
