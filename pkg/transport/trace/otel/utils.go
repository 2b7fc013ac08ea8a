package otel

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/keboola/go-svc/pkg/future"
)

func isSuccess(r *http.Response, err error) bool {
	if err != nil {
		return false
	}
	return r != nil && r.StatusCode < http.StatusBadRequest
}

func isRedirection(r *http.Response) bool {
	return r != nil && r.StatusCode >= http.StatusMultipleChoices && r.StatusCode < http.StatusBadRequest
}

// errorType classifies the failure for metrics, an empty string means no failure.
func errorType(r *http.Response, err error) string {
	var netErr net.Error
	switch {
	case err == nil && r == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, future.ErrCancelled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.As(err, &netErr):
		return "net"
	case err != nil:
		return "other"
	case r.StatusCode >= http.StatusInternalServerError:
		return "http_5xx_code"
	case r.StatusCode >= http.StatusBadRequest:
		return "http_4xx_code"
	default:
		return ""
	}
}
