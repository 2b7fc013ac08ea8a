// Package response wraps the asynchronous result of an issued request.
//
// The Response exposes the status code, the headers and the body stream as derived values.
// Each of them is computed on the first access and the same value is returned on subsequent accesses.
// If the request fails, all derived values fail with the same reason.
package response

import (
	"context"
	"net/http"
	"sync"

	"github.com/keboola/go-svc/pkg/future"
)

// Factory wraps the asynchronous result of a request.
type Factory func(f *future.Future[*http.Response]) *Response

// Response wraps one asynchronous request result.
type Response struct {
	future *future.Future[*http.Response]

	statusCodeOnce sync.Once
	statusCode     *future.Future[int]

	headersOnce sync.Once
	headers     *future.Future[http.Header]

	streamOnce sync.Once
	stream     *Stream
}

// New wraps the Future, it is the default Factory.
func New(f *future.Future[*http.Response]) *Response {
	return &Response{future: f}
}

// Future returns the underlying Future.
func (r *Response) Future() *future.Future[*http.Response] {
	return r.future
}

// Await blocks until the raw response is available.
// It returns future.ErrCancelled if the request has been cancelled.
func (r *Response) Await(ctx context.Context) (*http.Response, error) {
	return r.future.Await(ctx)
}

// Cancel aborts the in-flight request.
// It returns false, without any other effect, if the request is already completed or cancelled.
func (r *Response) Cancel() bool {
	return r.future.Cancel()
}

// StatusCode returns the status code as a derived Future, the same Future on each call.
func (r *Response) StatusCode() *future.Future[int] {
	r.statusCodeOnce.Do(func() {
		r.statusCode = future.Then(r.future, func(res *http.Response) (int, error) {
			return res.StatusCode, nil
		})
	})
	return r.statusCode
}

// Headers returns the headers as a derived Future, the same Future on each call.
func (r *Response) Headers() *future.Future[http.Header] {
	r.headersOnce.Do(func() {
		r.headers = future.Then(r.future, func(res *http.Response) (http.Header, error) {
			return res.Header.Clone(), nil
		})
	})
	return r.headers
}

// Stream returns the body stream, the same Stream on each call.
func (r *Response) Stream() *Stream {
	r.streamOnce.Do(func() {
		r.stream = newStream(r.future)
	})
	return r.stream
}
