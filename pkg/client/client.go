// Package client provides support for defining a client of a service endpoint.
//
// The Client holds the endpoint defaults: pathname, query parameters, headers, credential and transport.
// Each request layers its request.Options on top of the defaults, see request.Build for the merging rules.
// The built request.Descriptor is issued by the transport.Transport and the result is wrapped to the response.Response.
//
// A service specific client is a constructor which calls NewWithDefaults with its own Defaults.
//
// Call is a deferred request with listeners.
// RunGroup and WaitGroup are helpers for concurrent requests.
package client

import (
	"context"
	"net/http"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/response"
	"github.com/keboola/go-svc/pkg/transport"
)

// Defaults of a Client, the options are applied on top of them.
type Defaults struct {
	Pathname        string
	Query           request.QueryParams
	Headers         request.HeaderFields
	Credential      any
	Transport       transport.Transport
	ResponseFactory response.Factory
}

// Client issues requests against one service endpoint.
// The configuration is read-only after the construction, use the With method to derive a modified Client.
type Client struct {
	pathname        string
	query           request.QueryParams
	headers         request.HeaderFields
	credential      any
	transport       transport.Transport
	responseFactory response.Factory
}

// New creates a Client, the transport must be set by the WithTransport option.
// The default pathname is "/".
func New(opts ...Option) (*Client, error) {
	return NewWithDefaults(Defaults{}, opts...)
}

// NewWithDefaults creates a Client, the options are applied on top of the defaults.
// The query parameters and headers from the options are appended to the default lists.
func NewWithDefaults(defaults Defaults, opts ...Option) (*Client, error) {
	cfg, err := newConfig(defaults, opts)
	if err != nil {
		return nil, err
	}
	return &Client{
		pathname:        cfg.pathname,
		query:           cfg.query,
		headers:         cfg.headers,
		credential:      cfg.credential,
		transport:       cfg.transport,
		responseFactory: cfg.responseFactory,
	}, nil
}

// With returns a new Client, the options are applied on top of the current configuration.
func (c *Client) With(opts ...Option) (*Client, error) {
	return NewWithDefaults(c.Defaults(), opts...)
}

// Defaults returns a copy of the current configuration.
func (c *Client) Defaults() Defaults {
	return Defaults{
		Pathname:        c.pathname,
		Query:           c.Query(),
		Headers:         c.Headers(),
		Credential:      c.credential,
		Transport:       c.transport,
		ResponseFactory: c.responseFactory,
	}
}

func (c *Client) Pathname() string {
	return c.pathname
}

// Query returns a copy of the default query parameters.
func (c *Client) Query() request.QueryParams {
	return c.query.Clone()
}

// Headers returns a copy of the default headers.
func (c *Client) Headers() request.HeaderFields {
	return c.headers.Clone()
}

func (c *Client) Credential() any {
	return c.credential
}

func (c *Client) Transport() transport.Transport {
	return c.transport
}

// Build creates the request descriptor from the client defaults and the options.
func (c *Client) Build(method string, opts request.Options) (*request.Descriptor, error) {
	return request.Build(method, request.Defaults{
		Pathname:   c.pathname,
		Query:      c.query,
		Headers:    c.headers,
		Credential: c.credential,
	}, opts)
}

// Request builds the descriptor and issues it by the transport.
//
// An invalid option is reported synchronously by the error, the transport is not called in that case.
// Failures of the transport are reported asynchronously by the response.
func (c *Client) Request(ctx context.Context, method string, opts request.Options) (*response.Response, error) {
	descriptor, err := c.Build(method, opts)
	if err != nil {
		return nil, err
	}
	return c.responseFactory(c.transport.Issue(ctx, descriptor)), nil
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodHead, opts)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodGet, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodPut, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodPost, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodPatch, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, opts request.Options) (*response.Response, error) {
	return c.Request(ctx, http.MethodDelete, opts)
}
