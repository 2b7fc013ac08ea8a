package transport

import (
	"fmt"
	"net/http"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/transport/trace"
)

const (
	DefaultHostname      = "localhost"
	DefaultPort          = 80
	DefaultEncryptedPort = 443
)

// Option configures the HTTP transport.
type Option func(c *config) error

type config struct {
	encrypted  bool
	hostname   string
	port       int
	agent      http.RoundTripper
	agentSet   bool
	tls        *TLSConfig
	trace      []trace.Factory
	decompress bool
}

func newConfig(encrypted bool, opts []Option) (config, error) {
	cfg := config{encrypted: encrypted, hostname: DefaultHostname, port: DefaultPort}
	if encrypted {
		cfg.port = DefaultEncryptedPort
	}

	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return config{}, err
		}
	}

	if cfg.tls != nil {
		if !cfg.encrypted {
			return config{}, fmt.Errorf("%w: unexpected `tls`, the transport is not encrypted", request.ErrInvalidConfig)
		}
		if !cfg.agentSet || cfg.agent != nil {
			return config{}, fmt.Errorf("%w: unexpected `tls`, `agent` is not nil", request.ErrInvalidConfig)
		}
	}

	return cfg, nil
}

// WithHostname sets the domain or IP address of the service. Defaults to DefaultHostname.
func WithHostname(hostname string) Option {
	return func(c *config) error {
		if hostname == "" {
			return fmt.Errorf("%w: expected `hostname` to be a non-empty string", request.ErrInvalidConfig)
		}
		c.hostname = hostname
		return nil
	}
}

// WithPort sets the port the service is listening on.
// Defaults to DefaultPort, or DefaultEncryptedPort for the encrypted transport.
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: expected `port` to be in range 1-65535, found %d", request.ErrInvalidConfig, port)
		}
		c.port = port
		return nil
	}
}

// WithAgent sets the http.RoundTripper which owns the connections.
//
// If the option is not used, the shared DefaultAgent is used.
// If the agent is nil, a dedicated agent without connection reuse is created for the transport.
func WithAgent(agent http.RoundTripper) Option {
	return func(c *config) error {
		c.agent = agent
		c.agentSet = true
		return nil
	}
}

// WithTLS sets the TLS parameters of the encrypted transport.
// It can be used only together with WithAgent(nil).
func WithTLS(tls TLSConfig) Option {
	return func(c *config) error {
		c.tls = &tls
		return nil
	}
}

// WithTrace registers request life-cycle hooks.
// Multiple factories can be registered, their hooks are composed.
func WithTrace(factory trace.Factory) Option {
	return func(c *config) error {
		if factory != nil {
			c.trace = append(c.trace, factory)
		}
		return nil
	}
}

// WithDecompression enables decoding of gzip and brotli response bodies.
// The Accept-Encoding header is set, if it is not present in the request.
func WithDecompression() Option {
	return func(c *config) error {
		c.decompress = true
		return nil
	}
}
