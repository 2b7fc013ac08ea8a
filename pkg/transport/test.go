package transport

import (
	"os"

	"github.com/jarcoal/httpmock"

	"github.com/keboola/go-svc/pkg/transport/trace"
)

// NewTestTransport creates the HTTP transport for tests.
//
// If the TEST_HTTP_CLIENT_VERBOSE environment variable is set to "true",
// then all HTTP requests and responses are dumped to stdout.
//
// Output may contain unmasked tokens, do not use it in production.
func NewTestTransport(opts ...Option) (*HTTP, error) {
	if os.Getenv("TEST_HTTP_CLIENT_VERBOSE") == "true" { //nolint:forbidigo
		opts = append([]Option{WithTrace(trace.DumpTracer(os.Stdout))}, opts...)
	}
	return New(opts...)
}

// NewMockedTransport creates the HTTP transport with mocked agent.
// The hostname is "example.com", the port is 80.
func NewMockedTransport(opts ...Option) (*HTTP, *httpmock.MockTransport) {
	mockAgent := httpmock.NewMockTransport()
	opts = append([]Option{WithHostname("example.com")}, opts...)
	opts = append(opts, WithAgent(mockAgent))
	t, err := NewTestTransport(opts...)
	if err != nil {
		panic(err)
	}
	return t, mockAgent
}
