package client

import (
	"fmt"

	"github.com/keboola/go-utils/pkg/orderedmap"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/response"
	"github.com/keboola/go-svc/pkg/transport"
)

// Option modifies the client configuration.
// An option validates its input before it is applied, the first failing option aborts the construction.
type Option func(c *config) error

type config struct {
	pathname        string
	query           request.QueryParams
	headers         request.HeaderFields
	credential      any
	transport       transport.Transport
	responseFactory response.Factory
}

func newConfig(defaults Defaults, opts []Option) (config, error) {
	cfg := config{
		pathname:        defaults.Pathname,
		credential:      defaults.Credential,
		transport:       defaults.Transport,
		responseFactory: defaults.ResponseFactory,
	}

	// Default lists are copied, header names are lowercased
	var err error
	if cfg.query, err = defaults.Query.Normalize(); err != nil {
		return config{}, err
	}
	if cfg.headers, err = defaults.Headers.Normalize(); err != nil {
		return config{}, err
	}

	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, err
		}
	}

	if cfg.pathname == "" {
		cfg.pathname = "/"
	}
	if err := request.ValidatePathname(cfg.pathname); err != nil {
		return config{}, err
	}
	if cfg.transport == nil {
		return config{}, fmt.Errorf("%w: set a transport by the WithTransport option", request.ErrMissingTransport)
	}
	if cfg.responseFactory == nil {
		cfg.responseFactory = response.New
	}

	return cfg, nil
}

// WithPathname sets the default pathname, it must be non-empty and without "?".
func WithPathname(pathname string) Option {
	return func(c *config) error {
		if err := request.ValidatePathname(pathname); err != nil {
			return err
		}
		c.pathname = pathname
		return nil
	}
}

// WithQuery appends query parameters to the default query parameters.
func WithQuery(query *orderedmap.OrderedMap) Option {
	return func(c *config) error {
		if query == nil {
			return fmt.Errorf("%w: expected `query` to be a map", request.ErrInvalidConfig)
		}
		params, err := request.NormalizeQuery(query)
		if err != nil {
			return err
		}
		c.query = append(c.query, params...)
		return nil
	}
}

// WithHeaders appends headers to the default headers.
// Names are lowercased, one map cannot contain the same name twice.
func WithHeaders(headers *orderedmap.OrderedMap) Option {
	return func(c *config) error {
		if headers == nil {
			return fmt.Errorf("%w: expected `headers` to be a map", request.ErrInvalidConfig)
		}
		fields, err := request.NormalizeHeaders(headers)
		if err != nil {
			return err
		}
		c.headers = append(c.headers, fields...)
		return nil
	}
}

// WithCredential replaces the default credential, even if the value is nil.
// See transport.Credential for supported values.
func WithCredential(credential any) Option {
	return func(c *config) error {
		c.credential = credential
		return nil
	}
}

// WithTransport replaces the default transport.
func WithTransport(t transport.Transport) Option {
	return func(c *config) error {
		if t == nil {
			return fmt.Errorf("%w: expected `transport` to be a non-nil Transport", request.ErrInvalidConfig)
		}
		c.transport = t
		return nil
	}
}

// WithResponseFactory sets a function which wraps the asynchronous result of each request.
// The default is response.New.
func WithResponseFactory(factory response.Factory) Option {
	return func(c *config) error {
		if factory == nil {
			return fmt.Errorf("%w: expected `responseFactory` to be a non-nil function", request.ErrInvalidConfig)
		}
		c.responseFactory = factory
		return nil
	}
}
