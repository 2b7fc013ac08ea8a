package client

import (
	"github.com/jarcoal/httpmock"

	"github.com/keboola/go-svc/pkg/transport"
)

// NewMockedClient creates the Client with the mocked HTTP transport.
// The hostname is "example.com", the port is 80.
//
// If the TEST_HTTP_CLIENT_VERBOSE environment variable is set to "true",
// then all HTTP requests and responses are dumped to stdout.
func NewMockedClient(opts ...Option) (*Client, *httpmock.MockTransport) {
	t, mock := transport.NewMockedTransport()
	c, err := New(append([]Option{WithTransport(t)}, opts...)...)
	if err != nil {
		panic(err)
	}
	return c, mock
}
