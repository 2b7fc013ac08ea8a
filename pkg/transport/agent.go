package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// DialTimeout specifies default maximum connection initialization time.
const DialTimeout = 3 * time.Second

// KeepAlive specifies default interval between keep-alive probes.
const KeepAlive = 10 * time.Second

// TLSHandshakeTimeout specifies default timeout of TLS handshake.
const TLSHandshakeTimeout = 5 * time.Second

// ResponseHeaderTimeout specifies default amount of time to wait for a server's response headers.
const ResponseHeaderTimeout = 20 * time.Second

// MaxConnectionsPerHost specifies default maximum number of open connections to a host.
const MaxConnectionsPerHost = 32

var defaultAgent = sync.OnceValue(func() http.RoundTripper { //nolint:gochecknoglobals
	return NewAgent()
})

// DefaultAgent returns the agent shared by all transports without the WithAgent option.
func DefaultAgent() http.RoundTripper {
	return defaultAgent()
}

// NewAgent creates a new agent with reasonable limits.
// Responses are not decompressed and redirects are not followed, the raw response is returned.
func NewAgent() *http.Transport {
	dialer := Dialer()
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: ResponseHeaderTimeout,
		MaxConnsPerHost:       MaxConnectionsPerHost,
		MaxIdleConnsPerHost:   MaxConnectionsPerHost,
		DisableCompression:    true,
	}
}

// dedicatedAgent creates an agent for one transport, each request opens a new connection.
func dedicatedAgent(tlsConfig *tls.Config) *http.Transport {
	agent := NewAgent()
	agent.DisableKeepAlives = true
	agent.TLSClientConfig = tlsConfig
	return agent
}

// Dialer - default dialer.
func Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   DialTimeout,
		KeepAlive: KeepAlive,
	}
}
