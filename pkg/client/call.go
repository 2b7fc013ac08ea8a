package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/response"
)

// Sendable is a request, or a group of requests, which can be sent later.
type Sendable interface {
	SendOrErr(ctx context.Context) error
}

// StatusError is returned by Call.Send, if the service responds with a status code >= 400.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e StatusError) Error() string {
	return fmt.Sprintf(`request %s "%s" failed: %d %s`, e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Call is a deferred request of a Client.
// Call value is immutable, each With* method returns a modified copy.
type Call struct {
	client    *Client
	method    string
	opts      request.Options
	listeners []func(ctx context.Context, res *response.Response, err error) error
}

// NewCall creates a deferred request, it is issued by the Send method.
func (c *Client) NewCall(method string, opts request.Options) Call {
	return Call{client: c, method: method, opts: opts}
}

func (r Call) Method() string {
	return r.method
}

func (r Call) Options() request.Options {
	return r.opts
}

// WithOptions returns a copy of the Call with the options replaced.
func (r Call) WithOptions(opts request.Options) Call {
	r.opts = opts
	return r
}

// WithOnComplete registers a listener called when the request is completed, successfully or not.
// The returned error replaces the error passed to the next listener.
func (r Call) WithOnComplete(fn func(ctx context.Context, res *response.Response, err error) error) Call {
	r.listeners = append(r.listeners[:len(r.listeners):len(r.listeners)], fn)
	return r
}

// WithOnSuccess registers a listener called when the response has a status code < 400.
func (r Call) WithOnSuccess(fn func(ctx context.Context, res *response.Response) error) Call {
	return r.WithOnComplete(func(ctx context.Context, res *response.Response, err error) error {
		if err == nil {
			return fn(ctx, res)
		}
		return err
	})
}

// WithOnError registers a listener called when the request cannot be sent, fails, or the status code is >= 400.
func (r Call) WithOnError(fn func(ctx context.Context, err error) error) Call {
	return r.WithOnComplete(func(ctx context.Context, res *response.Response, err error) error {
		if err != nil {
			return fn(ctx, err)
		}
		return nil
	})
}

// Send issues the request, waits for the response headers and invokes the listeners.
// A status code >= 400 is converted to the StatusError.
// The caller is responsible for closing the response stream.
func (r Call) Send(ctx context.Context) (*response.Response, error) {
	// Stop if context has been cancelled
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := r.client.Request(ctx, r.method, r.opts)
	if err == nil {
		var raw *http.Response
		if raw, err = res.Await(ctx); err == nil && raw.StatusCode >= http.StatusBadRequest {
			err = StatusError{Method: r.method, URL: requestURL(raw), StatusCode: raw.StatusCode}
		}
	}

	// Invoke listeners
	for _, fn := range r.listeners {
		// Stop if context has been cancelled
		if ctxErr := ctx.Err(); ctxErr != nil {
			closeResponse(res)
			return nil, ctxErr
		}
		err = fn(ctx, res, err)
	}

	return res, err
}

// SendOrErr issues the request, invokes the listeners and closes the response stream.
func (r Call) SendOrErr(ctx context.Context) error {
	res, err := r.Send(ctx)
	closeResponse(res)
	return err
}

func closeResponse(res *response.Response) {
	if res != nil {
		_ = res.Stream().Close()
	}
}

func requestURL(res *http.Response) string {
	if res.Request != nil && res.Request.URL != nil {
		return res.Request.URL.String()
	}
	return ""
}
