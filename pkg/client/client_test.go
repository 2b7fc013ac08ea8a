package client_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/keboola/go-svc/pkg/client"
	"github.com/keboola/go-svc/pkg/future"
	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/response"
)

// recordingTransport records issued descriptors and responds with an empty 200 response.
type recordingTransport struct {
	lock        sync.Mutex
	descriptors []*request.Descriptor
}

func (t *recordingTransport) Issue(_ context.Context, descriptor *request.Descriptor) *future.Future[*http.Response] {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.descriptors = append(t.descriptors, descriptor)
	return future.Resolved(&http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: http.NoBody})
}

func (t *recordingTransport) Last() *request.Descriptor {
	t.lock.Lock()
	defer t.lock.Unlock()
	if len(t.descriptors) == 0 {
		return nil
	}
	return t.descriptors[len(t.descriptors)-1]
}

func (t *recordingTransport) Count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.descriptors)
}

func pairs(kv ...any) *orderedmap.OrderedMap {
	var out []orderedmap.Pair
	for i := 0; i < len(kv); i += 2 {
		out = append(out, orderedmap.Pair{Key: kv[i].(string), Value: kv[i+1]})
	}
	return orderedmap.FromPairs(out)
}

func TestNew_MissingTransport(t *testing.T) {
	t.Parallel()

	_, err := New()
	assert.ErrorIs(t, err, request.ErrMissingTransport)

	_, err = NewWithDefaults(Defaults{Pathname: "/api"}, WithPathname("/other"))
	assert.ErrorIs(t, err, request.ErrMissingTransport)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr))
	require.NoError(t, err)
	assert.Equal(t, "/", c.Pathname())
	assert.Empty(t, c.Query())
	assert.Empty(t, c.Headers())
	assert.Nil(t, c.Credential())
	assert.Same(t, tr, c.Transport())
}

func TestNewWithDefaults(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	defaults := Defaults{
		Pathname:   "/api",
		Query:      request.QueryParams{{Name: "a", Value: "1"}},
		Headers:    request.HeaderFields{{Name: "host", Values: []string{"example.com"}}},
		Credential: "user:pass",
		Transport:  tr,
	}

	c, err := NewWithDefaults(
		defaults,
		WithQuery(pairs("a", 2, "b", true)),
		WithHeaders(pairs("X-Foo", []any{"x", 1.5})),
	)
	require.NoError(t, err)

	// Pairs are appended to the defaults
	assert.Equal(t, "/api", c.Pathname())
	assert.Equal(t, request.QueryParams{{Name: "a", Value: "1"}, {Name: "a", Value: "2"}, {Name: "b", Value: "true"}}, c.Query())
	assert.Equal(t, request.HeaderFields{
		{Name: "host", Values: []string{"example.com"}},
		{Name: "x-foo", Values: []string{"x", "1.5"}},
	}, c.Headers())
	assert.Equal(t, "user:pass", c.Credential())

	// Defaults are not modified
	assert.Len(t, defaults.Query, 1)
	assert.Len(t, defaults.Headers, 1)
}

func TestNewWithDefaults_Normalizes(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := NewWithDefaults(Defaults{
		Headers:   request.HeaderFields{{Name: "X-Foo", Values: []string{"default"}}},
		Transport: tr,
	})
	require.NoError(t, err)
	assert.Equal(t, request.HeaderFields{{Name: "x-foo", Values: []string{"default"}}}, c.Headers())

	// The per-call header wins over the default, regardless of the case
	_, err = c.Get(context.Background(), request.NewOptions().WithHeaders(pairs("x-foo", "override")))
	require.NoError(t, err)
	assert.Equal(t, request.Header{"x-foo": {"override"}}, tr.Last().Header())

	// Empty names are rejected
	_, err = NewWithDefaults(Defaults{
		Headers:   request.HeaderFields{{Name: "", Values: []string{"empty"}}},
		Transport: tr,
	})
	assert.ErrorIs(t, err, request.ErrInvalidValue)
	assert.Equal(t, "invalid value: unexpected empty header name", err.Error())

	_, err = NewWithDefaults(Defaults{
		Query:     request.QueryParams{{Name: "", Value: "v"}},
		Transport: tr,
	})
	assert.ErrorIs(t, err, request.ErrInvalidValue)
	assert.Equal(t, "invalid value: unexpected empty param name", err.Error())

	// Only the valid request has been issued
	assert.Equal(t, 1, tr.Count())
}

func TestNew_RepeatedOptionsAppend(t *testing.T) {
	t.Parallel()

	c, err := New(
		WithTransport(&recordingTransport{}),
		WithQuery(pairs("a", "1")),
		WithQuery(pairs("a", "2")),
		WithHeaders(pairs("Accept", "text/plain")),
		WithHeaders(pairs("accept", "application/json")),
	)
	require.NoError(t, err)
	assert.Equal(t, request.QueryParams{{Name: "a", Value: "1"}, {Name: "a", Value: "2"}}, c.Query())
	assert.Equal(t, request.HeaderFields{
		{Name: "accept", Values: []string{"text/plain"}},
		{Name: "accept", Values: []string{"application/json"}},
	}, c.Headers())
}

func TestNew_Credential(t *testing.T) {
	t.Parallel()

	defaults := Defaults{Credential: "token", Transport: &recordingTransport{}}

	// Default is kept
	c, err := NewWithDefaults(defaults)
	require.NoError(t, err)
	assert.Equal(t, "token", c.Credential())

	// Presence of the option overrides, even with nil
	c, err = NewWithDefaults(defaults, WithCredential(nil))
	require.NoError(t, err)
	assert.Nil(t, c.Credential())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		option   Option
		sentinel error
		expected string
	}{
		{
			name:     "empty pathname",
			option:   WithPathname(""),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: expected `pathname` to be a non-empty string",
		},
		{
			name:     "pathname with search",
			option:   WithPathname("/foo?bar"),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: `pathname` cannot contain `?`",
		},
		{
			name:     "nil query",
			option:   WithQuery(nil),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: expected `query` to be a map",
		},
		{
			name:     "empty param name",
			option:   WithQuery(pairs("", "x")),
			sentinel: request.ErrInvalidValue,
			expected: "invalid value: unexpected empty param name",
		},
		{
			name:     "invalid param value",
			option:   WithQuery(pairs("a", []string{"x"})),
			sentinel: request.ErrInvalidValue,
			expected: "invalid value: unexpected value for `a` param",
		},
		{
			name:     "nil headers",
			option:   WithHeaders(nil),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: expected `headers` to be a map",
		},
		{
			name:     "duplicate header",
			option:   WithHeaders(pairs("Accept", "a", "ACCEPT", "b")),
			sentinel: request.ErrDuplicateHeader,
			expected: "duplicate header: unexpected duplicate `ACCEPT` header",
		},
		{
			name:     "nested header value",
			option:   WithHeaders(pairs("X-Foo", []any{[]any{"x"}})),
			sentinel: request.ErrInvalidValue,
			expected: "invalid value: unexpected value for `X-Foo` header",
		},
		{
			name:     "nil transport",
			option:   WithTransport(nil),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: expected `transport` to be a non-nil Transport",
		},
		{
			name:     "nil response factory",
			option:   WithResponseFactory(nil),
			sentinel: request.ErrInvalidConfig,
			expected: "invalid config: expected `responseFactory` to be a non-nil function",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := New(WithTransport(&recordingTransport{}), tc.option)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, tc.expected, err.Error())
		})
	}
}

func TestClient_With(t *testing.T) {
	t.Parallel()

	c, err := New(WithTransport(&recordingTransport{}), WithPathname("/api"), WithQuery(pairs("a", 1)))
	require.NoError(t, err)

	derived, err := c.With(WithQuery(pairs("b", 2)), WithCredential("token"))
	require.NoError(t, err)
	assert.Equal(t, "/api", derived.Pathname())
	assert.Equal(t, request.QueryParams{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, derived.Query())
	assert.Equal(t, "token", derived.Credential())

	// The original client is not modified
	assert.Equal(t, request.QueryParams{{Name: "a", Value: "1"}}, c.Query())
	assert.Nil(t, c.Credential())

	// Invalid option, no client
	_, err = c.With(WithPathname(""))
	assert.ErrorIs(t, err, request.ErrInvalidConfig)
}

func TestClient_AccessorsReturnCopies(t *testing.T) {
	t.Parallel()

	c, err := New(WithTransport(&recordingTransport{}), WithQuery(pairs("a", 1)), WithHeaders(pairs("X-Foo", "bar")))
	require.NoError(t, err)

	query := c.Query()
	query[0].Value = "changed"
	headers := c.Headers()
	headers[0].Values[0] = "changed"

	assert.Equal(t, request.QueryParams{{Name: "a", Value: "1"}}, c.Query())
	assert.Equal(t, request.HeaderFields{{Name: "x-foo", Values: []string{"bar"}}}, c.Headers())
}

func TestClient_Request_QueryOverrideReplacesSameName(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr), WithQuery(pairs("a", 1)))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), request.NewOptions().WithQuery(pairs("b", 3, "a", 2)))
	require.NoError(t, err)
	assert.Equal(t, "/?b=3&a=2", tr.Last().Path())

	// Defaults are kept for the next request
	_, err = c.Get(context.Background(), request.NewOptions().WithPathname("/foo"))
	require.NoError(t, err)
	assert.Equal(t, "/foo?a=1", tr.Last().Path())
}

func TestClient_Request_HeadersFillGaps(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr), WithHeaders(pairs("Host", "example.com", "X-Default", "d")))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), request.NewOptions().WithHeaders(pairs("HOST", "other.com")))
	require.NoError(t, err)
	assert.Equal(t, request.Header{
		"host":      {"other.com"},
		"x-default": {"d"},
	}, tr.Last().Header())
}

func TestClient_Request_Body(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr))
	require.NoError(t, err)

	_, err = c.Post(context.Background(), request.NewOptions().WithJSON(pairs("x", 1)))
	require.NoError(t, err)
	assert.Equal(t, request.DefaultJSONContentType, tr.Last().Header().Get("content-type"))
	assert.Equal(t, `{"x":1}`, string(tr.Last().Body().Chunk))
}

func TestClient_Request_Credential(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr), WithCredential("user:pass"))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), request.NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "user:pass", tr.Last().Credential())

	_, err = c.Get(context.Background(), request.NewOptions().WithCredential(nil))
	require.NoError(t, err)
	assert.Nil(t, tr.Last().Credential())
}

func TestClient_Request_BuildError(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr))
	require.NoError(t, err)

	res, err := c.Post(context.Background(), request.NewOptions().WithJSON("x").WithChunk([]byte("y")))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, request.ErrConflictingBodyOption)

	res, err = c.Get(context.Background(), request.NewOptions().WithHeaders(pairs("a", "1", "A", "2")))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, request.ErrDuplicateHeader)

	// The transport is not called
	assert.Equal(t, 0, tr.Count())
}

func TestClient_Verbs(t *testing.T) {
	t.Parallel()

	tr := &recordingTransport{}
	c, err := New(WithTransport(tr))
	require.NoError(t, err)

	ctx := context.Background()
	verbs := map[string]func(context.Context, request.Options) (*response.Response, error){
		http.MethodHead:   c.Head,
		http.MethodGet:    c.Get,
		http.MethodPut:    c.Put,
		http.MethodPost:   c.Post,
		http.MethodPatch:  c.Patch,
		http.MethodDelete: c.Delete,
	}
	for method, fn := range verbs {
		res, err := fn(ctx, request.NewOptions())
		require.NoError(t, err, method)
		assert.Equal(t, method, tr.Last().Method())

		code, err := res.StatusCode().Await(ctx)
		require.NoError(t, err, method)
		assert.Equal(t, http.StatusOK, code)
	}

	_, err = c.Request(ctx, "OPTIONS", request.NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "OPTIONS", tr.Last().Method())
}

func TestClient_ResponseFactory(t *testing.T) {
	t.Parallel()

	var calls int
	factory := func(f *future.Future[*http.Response]) *response.Response {
		calls++
		return response.New(f)
	}

	c, err := New(WithTransport(&recordingTransport{}), WithResponseFactory(factory))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), request.NewOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The factory is inherited by a derived client
	derived, err := c.With(WithPathname("/foo"))
	require.NoError(t, err)
	_, err = derived.Get(context.Background(), request.NewOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClient_MockedTransport(t *testing.T) {
	t.Parallel()

	c, mock := NewMockedClient(
		WithPathname("/api"),
		WithQuery(pairs("v", 2)),
		WithHeaders(pairs("User-Agent", "go-svc-test")),
		WithCredential("user:pass"),
	)
	mock.RegisterResponder("POST", "http://example.com/api/items?v=2", func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		username, password, _ := req.BasicAuth()
		reply := strings.Join([]string{req.UserAgent(), req.Header.Get("Content-Type"), username, password, string(body)}, "|")
		return httpmock.NewStringResponse(http.StatusCreated, reply), nil
	})

	res, err := c.Post(context.Background(), request.NewOptions().WithPathname("/api/items").WithForm(pairs("name", "a b")))
	require.NoError(t, err)

	code, err := res.StatusCode().Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, code)

	text, err := res.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "go-svc-test|"+request.DefaultFormContentType+"|user|pass|name=a%20b", text)
}
