// Package transport issues request descriptors against a service over HTTP or HTTPS.
//
// The Transport returns a Future of the raw *http.Response.
// Redirects are not followed and failed requests are not retried.
// Cancellation of the Future, or of the context, aborts the in-flight request.
//
// Connections are owned by an "agent", see WithAgent.
// Request life-cycle hooks can be registered by WithTrace, see the trace package.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/keboola/go-svc/pkg/future"
	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/transport/counter"
	"github.com/keboola/go-svc/pkg/transport/decode"
	"github.com/keboola/go-svc/pkg/transport/trace"
)

const (
	issuePending int32 = iota
	issueObserved
	issueCancelled
)

// Transport issues a request and returns a Future of the raw response.
type Transport interface {
	Issue(ctx context.Context, descriptor *request.Descriptor) *future.Future[*http.Response]
}

// HTTP is the default Transport implementation, it is based on the net/http package.
type HTTP struct {
	scheme     string
	hostname   string
	port       int
	agent      http.RoundTripper
	trace      trace.Factory
	decompress bool
}

// New creates an unencrypted HTTP transport, by default to "localhost:80".
func New(opts ...Option) (*HTTP, error) {
	return newHTTP(false, opts)
}

// NewEncrypted creates an HTTPS transport, by default to "localhost:443".
func NewEncrypted(opts ...Option) (*HTTP, error) {
	return newHTTP(true, opts)
}

func newHTTP(encrypted bool, opts []Option) (*HTTP, error) {
	cfg, err := newConfig(encrypted, opts)
	if err != nil {
		return nil, err
	}

	t := &HTTP{scheme: "http", hostname: cfg.hostname, port: cfg.port, decompress: cfg.decompress}
	if encrypted {
		t.scheme = "https"
	}

	switch {
	case !cfg.agentSet:
		t.agent = DefaultAgent()
	case cfg.agent != nil:
		t.agent = cfg.agent
	case cfg.tls != nil:
		tlsConfig, err := cfg.tls.TLS(cfg.hostname)
		if err != nil {
			return nil, err
		}
		t.agent = dedicatedAgent(tlsConfig)
	default:
		t.agent = dedicatedAgent(nil)
	}

	if len(cfg.trace) > 0 {
		t.trace = trace.ComposeFactories(cfg.trace...)
	}

	return t, nil
}

// Hostname returns the domain or IP address of the service.
func (t *HTTP) Hostname() string {
	return t.hostname
}

// Port returns the port the service is listening on.
func (t *HTTP) Port() int {
	return t.port
}

// Encrypted returns true for the HTTPS transport.
func (t *HTTP) Encrypted() bool {
	return t.scheme == "https"
}

// Agent returns the http.RoundTripper which owns the connections.
func (t *HTTP) Agent() http.RoundTripper {
	return t.agent
}

// BaseURL returns the URL of the service, the default port is omitted.
func (t *HTTP) BaseURL() *url.URL {
	host := t.hostname
	if (t.scheme == "http" && t.port != DefaultPort) || (t.scheme == "https" && t.port != DefaultEncryptedPort) {
		host = net.JoinHostPort(t.hostname, strconv.Itoa(t.port))
	}
	return &url.URL{Scheme: t.scheme, Host: host}
}

// Issue sends the request described by the descriptor.
//
// The returned Future is resolved with the raw response, when the response headers are received,
// the caller is responsible for closing the response body.
// The Future is rejected if the request cannot be sent or the connection fails.
// Cancellation of the Future or of the context aborts the request, only once.
// A response received after the cancellation is closed and ignored.
func (t *HTTP) Issue(ctx context.Context, descriptor *request.Descriptor) *future.Future[*http.Response] {
	// Init trace
	var tc *trace.ClientTrace
	if t.trace != nil {
		ctx, tc = t.trace(ctx, descriptor)
		if tc != nil {
			ctx = httptrace.WithClientTrace(ctx, &tc.ClientTrace)
		}
	}

	// The request context is cancelled when the request is aborted or the response body is closed
	reqCtx, cancelReq := context.WithCancel(ctx)

	req, sentBody, err := t.newRequest(reqCtx, descriptor)
	if err != nil {
		cancelReq()
		if tc != nil && tc.RequestDone != nil {
			tc.RequestDone(nil, 0, err)
		}
		return future.Rejected[*http.Response](err)
	}

	// Trace request start
	if tc != nil && tc.RequestStart != nil {
		tc.RequestStart(req)
	}

	// The response is either observed or cancelled, never both
	var state atomic.Int32
	f := future.New(func(resolve func(*http.Response) bool, reject func(error) bool) func() {
		go func() {
			startedAt := time.Now()
			res, err := t.agent.RoundTrip(req)
			if err == nil && res == nil {
				err = errors.New("agent returned no response")
			}

			// Request has been cancelled, the result is ignored
			if ctx.Err() != nil || !state.CompareAndSwap(issuePending, issueObserved) {
				if res != nil && res.Body != nil {
					_ = res.Body.Close()
				}
				cancelReq()
				return
			}

			var sentBytes int64
			if sentBody != nil {
				sentBytes = sentBody.Bytes()
			}

			// Handle send error
			if err != nil {
				err = sendError(req, startedAt, err)
				if tc != nil && tc.RequestDone != nil {
					tc.RequestDone(nil, sentBytes, err)
				}
				cancelReq()
				reject(err)
				return
			}

			// Trace request done, hooks may replace the body
			if tc != nil && tc.RequestDone != nil {
				tc.RequestDone(res, sentBytes, nil)
			}

			if res.Body == nil {
				res.Body = http.NoBody
			}
			if res.Request == nil {
				res.Request = req
			}

			// Decode body
			if t.decompress {
				if err := decode.Response(res); err != nil {
					_ = res.Body.Close()
					cancelReq()
					reject(fmt.Errorf(`request %s "%s" failed: %w`, req.Method, req.URL.String(), err))
					return
				}
			}

			// Track body close
			res.Body = counter.NewReadCloser(res.Body, func(receivedBytes int64, err error) {
				cancelReq()
				if tc != nil && tc.BodyDone != nil {
					tc.BodyDone(receivedBytes, err)
				}
			})

			if !resolve(res) {
				_ = res.Body.Close()
			}
		}()

		return func() {
			cancelReq()
			// The response has been observed already, it is traced instead
			if state.CompareAndSwap(issuePending, issueCancelled) && tc != nil && tc.RequestCancelled != nil {
				tc.RequestCancelled()
			}
		}
	})

	// Cancellation of the context cancels the future
	stop := context.AfterFunc(ctx, func() {
		f.Cancel()
	})
	go func() {
		<-f.Done()
		stop()
	}()

	return f
}

func (t *HTTP) newRequest(ctx context.Context, descriptor *request.Descriptor) (*http.Request, *counter.ReadCloser, error) {
	path := descriptor.Path()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	reqURL, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, nil, fmt.Errorf(`%w: invalid path "%s": %s`, request.ErrInvalidValue, path, err.Error())
	}
	base := t.BaseURL()
	reqURL.Scheme = base.Scheme
	reqURL.Host = base.Host

	req, err := http.NewRequestWithContext(ctx, descriptor.Method(), reqURL.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf(`%w: invalid request %s "%s": %s`, request.ErrInvalidValue, descriptor.Method(), reqURL.String(), err.Error())
	}
	req.URL = reqURL

	// Headers
	var contentLength string
	for name, values := range descriptor.Header() {
		switch name {
		case "host":
			if len(values) > 0 {
				req.Host = values[0]
			}
		case "content-length":
			if len(values) > 0 {
				contentLength = values[0]
			}
		default:
			req.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
	if t.decompress && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", decode.AcceptEncoding)
	}

	// Credential
	if err := applyCredential(req, descriptor.Credential()); err != nil {
		return nil, nil, err
	}

	// Body
	var sentBody *counter.ReadCloser
	if body := descriptor.Body(); body != nil {
		switch {
		case body.Stream != nil:
			sentBody = counter.NewReader(body.Stream, nil)
			req.Body = sentBody
			req.ContentLength = -1
			if v, err := strconv.ParseInt(contentLength, 10, 64); err == nil && v >= 0 {
				req.ContentLength = v
			}
		case len(body.Chunk) > 0:
			chunk := body.Chunk
			sentBody = counter.NewReader(bytes.NewReader(chunk), nil)
			req.Body = sentBody
			req.ContentLength = int64(len(chunk))
		default:
			req.Body = http.NoBody
		}
	}

	return req, sentBody, nil
}

func sendError(req *http.Request, startedAt time.Time, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		err = fmt.Errorf("timeout after %s: %w", time.Since(startedAt), err)
	}
	return fmt.Errorf(`request %s "%s" failed: %w`, req.Method, req.URL.String(), err)
}
