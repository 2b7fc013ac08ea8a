package otel_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	export "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/transport"
	"github.com/keboola/go-svc/pkg/transport/trace/otel"
)

const (
	testTraceID    = 0xabcd
	testSpanIDBase = 0x1000
)

type testIDGenerator struct {
	spanID uint16
}

func (g *testIDGenerator) NewIDs(ctx context.Context) (otelTrace.TraceID, otelTrace.SpanID) {
	traceID := toTraceID(testTraceID)
	return traceID, g.NewSpanID(ctx, traceID)
}

func (g *testIDGenerator) NewSpanID(_ context.Context, _ otelTrace.TraceID) otelTrace.SpanID {
	g.spanID++
	return toSpanID(testSpanIDBase + g.spanID)
}

func toTraceID(in uint16) otelTrace.TraceID { //nolint: unparam
	tmp := make([]byte, 16)
	binary.BigEndian.PutUint16(tmp, in)
	return *(*[16]byte)(tmp)
}

func toSpanID(in uint16) otelTrace.SpanID {
	tmp := make([]byte, 8)
	binary.BigEndian.PutUint16(tmp, in)
	return *(*[8]byte)(tmp)
}

type testTelemetry struct {
	traceExporter  *tracetest.InMemoryExporter
	tracerProvider *trace.TracerProvider
	metricReader   metric.Reader
	meterProvider  *metric.MeterProvider
}

func newTestTelemetry(t *testing.T, reader metric.Reader) *testTelemetry {
	t.Helper()

	res, err := resource.New(context.Background())
	require.NoError(t, err)

	out := &testTelemetry{traceExporter: tracetest.NewInMemoryExporter(), metricReader: reader}
	out.tracerProvider = trace.NewTracerProvider(
		trace.WithSyncer(out.traceExporter),
		trace.WithResource(res),
		trace.WithIDGenerator(&testIDGenerator{}),
	)
	out.meterProvider = metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)
	return out
}

func (tel *testTelemetry) factoryOption() transport.Option {
	return transport.WithTrace(otel.NewTrace(
		tel.tracerProvider,
		tel.meterProvider,
		otel.WithRedactedQueryParam("secret"),
		otel.WithRedactedHeaders("X-Token"),
		otel.WithPropagators(propagation.TraceContext{}),
	))
}

func (tel *testTelemetry) spans() tracetest.SpanStubs {
	spans := tel.traceExporter.GetSpans()
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].SpanContext.SpanID().String() < spans[j].SpanContext.SpanID().String()
	})
	return spans
}

func (tel *testTelemetry) metrics(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	all := &metricdata.ResourceMetrics{}
	require.NoError(t, tel.metricReader.Collect(context.Background(), all))
	require.Len(t, all.ScopeMetrics, 1)
	out := make(map[string]metricdata.Metrics)
	for _, m := range all.ScopeMetrics[0].Metrics {
		out[m.Name] = m
	}
	return out
}

func attrsMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any)
	for _, attr := range attrs {
		out[string(attr.Key)] = attr.Value.AsInterface()
	}
	return out
}

func spanNames(spans tracetest.SpanStubs) []string {
	var out []string
	for _, span := range spans {
		out = append(out, span.Name)
	}
	return out
}

func TestMockedRequest(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry(t, metric.NewManualReader())
	tr, mock := transport.NewMockedTransport(tel.factoryOption())

	var traceParent string
	mock.RegisterResponder(http.MethodGet, "http://example.com/items", func(req *http.Request) (*http.Response, error) {
		traceParent = req.Header.Get("traceparent")
		res := httpmock.NewStringResponse(http.StatusOK, "OK")
		res.Header.Set("Content-Type", "text/plain")
		return res, nil
	})

	// Send request
	ctx := context.Background()
	descriptor, err := request.Build(http.MethodGet, request.Defaults{Pathname: "/items"}, request.NewOptions().
		WithQuery(orderedmap.FromPairs([]orderedmap.Pair{{Key: "foo", Value: "bar"}, {Key: "secret", Value: 123}})).
		WithHeaders(orderedmap.FromPairs([]orderedmap.Pair{{Key: "X-Token", Value: "my-token"}})),
	)
	require.NoError(t, err)
	res, err := tr.Issue(ctx, descriptor).Await(ctx)
	require.NoError(t, err)

	// Root span is not ended before the body is closed
	assert.Empty(t, tel.spans())
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())
	assert.Equal(t, "OK", string(body))
	assert.Equal(t, "00-abcd0000000000000000000000000000-1001000000000000-01", traceParent)

	// Assert spans
	spans := tel.spans()
	require.Equal(t, []string{"go.svc.client.request", "go.svc.client.response.body"}, spanNames(spans))

	root := spans[0]
	assert.Equal(t, otelTrace.SpanKindClient, root.SpanKind)
	assert.Equal(t, codes.Unset, root.Status.Code)
	assert.Equal(t, 1, root.ChildSpanCount)
	assert.Equal(t, map[string]any{
		"resource.name":                     "/items",
		"span.kind":                         "client",
		"span.type":                         "http",
		"definition.method":                 "GET",
		"definition.url.path":               "/items",
		"definition.header.x-token":         "****",
		"definition.params.query.foo":       "bar",
		"definition.params.query.secret":    "****",
		"http.method":                       "GET",
		"http.scheme":                       "http",
		"net.peer.name":                     "example.com",
		"net.peer.port":                     int64(80),
		"http.url":                          "http://example.com/items?foo=bar&secret=....",
		"http.header.traceparent":           "00-abcd0000000000000000000000000000-1001000000000000-01",
		"http.header.x-token":               "****",
		"http.status_code":                  int64(200),
		"http.response.header.content-type": "text/plain",
		"http.wrote_bytes":                  int64(0),
	}, attrsMap(root.Attributes))

	bodySpan := spans[1]
	assert.Equal(t, root.SpanContext, bodySpan.Parent)
	assert.Equal(t, map[string]any{
		"http.status_code": int64(200),
		"http.read_bytes":  int64(2),
	}, attrsMap(bodySpan.Attributes))

	// Assert metrics
	metrics := tel.metrics(t)
	inFlight, ok := metrics["go.svc.client.request.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, inFlight.DataPoints, 1)
	assert.Equal(t, int64(0), inFlight.DataPoints[0].Value)
	assert.Equal(t, map[string]any{"definition.method": "GET", "definition.url.path": "/items"}, attrsMap(inFlight.DataPoints[0].Attributes.ToSlice()))

	duration, ok := metrics["go.svc.client.request.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
	assert.Equal(t, map[string]any{
		"definition.method":   "GET",
		"definition.url.path": "/items",
		"http.method":         "GET",
		"http.scheme":         "http",
		"net.peer.name":       "example.com",
		"net.peer.port":       int64(80),
		"http.status_code":    int64(200),
	}, attrsMap(duration.DataPoints[0].Attributes.ToSlice()))

	bodyDuration, ok := metrics["go.svc.client.response.body.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, bodyDuration.DataPoints, 1)
	assert.Equal(t, uint64(1), bodyDuration.DataPoints[0].Count)
}

func TestMockedRequest_Error(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry(t, metric.NewManualReader())
	tr, mock := transport.NewMockedTransport(tel.factoryOption())
	mock.RegisterResponder(http.MethodPost, "http://example.com/items", httpmock.NewErrorResponder(errors.New("connection refused")))

	ctx := context.Background()
	descriptor, err := request.Build(http.MethodPost, request.Defaults{Pathname: "/items"}, request.NewOptions().WithJSON(map[string]any{"foo": "bar"}))
	require.NoError(t, err)
	_, err = tr.Issue(ctx, descriptor).Await(ctx)
	require.Error(t, err)

	spans := tel.spans()
	require.Equal(t, []string{"go.svc.client.request"}, spanNames(spans))
	root := spans[0]
	assert.Equal(t, codes.Error, root.Status.Code)
	assert.Equal(t, `request POST "http://example.com/items" failed: connection refused`, root.Status.Description)
	require.Len(t, root.Events, 1)
	assert.Equal(t, "exception", root.Events[0].Name)
	assert.Equal(t, "other", attrsMap(root.Attributes)["http.error_type"])

	metrics := tel.metrics(t)
	inFlight, ok := metrics["go.svc.client.request.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, inFlight.DataPoints, 1)
	assert.Equal(t, int64(0), inFlight.DataPoints[0].Value)
	_, found := metrics["go.svc.client.response.body.duration"]
	assert.False(t, found)
}

func TestMockedRequest_ErrorStatusCode(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry(t, metric.NewManualReader())
	tr, mock := transport.NewMockedTransport(tel.factoryOption())
	mock.RegisterResponder(http.MethodGet, "http://example.com/missing", httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	ctx := context.Background()
	descriptor, err := request.Build(http.MethodGet, request.Defaults{Pathname: "/missing"}, request.NewOptions())
	require.NoError(t, err)
	res, err := tr.Issue(ctx, descriptor).Await(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	spans := tel.spans()
	require.Equal(t, []string{"go.svc.client.request", "go.svc.client.response.body"}, spanNames(spans))
	root := spans[0]
	assert.Equal(t, codes.Error, root.Status.Code)
	assert.Equal(t, "HTTP status code: 404 Not Found", root.Status.Description)
	assert.Equal(t, "http_4xx_code", attrsMap(root.Attributes)["http.error_type"])
}

func TestMockedRequest_Cancelled(t *testing.T) {
	t.Parallel()

	tel := newTestTelemetry(t, metric.NewManualReader())
	tr, mock := transport.NewMockedTransport(tel.factoryOption())
	started := make(chan struct{})
	mock.RegisterResponder(http.MethodGet, "http://example.com/slow", func(req *http.Request) (*http.Response, error) {
		close(started)
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	descriptor, err := request.Build(http.MethodGet, request.Defaults{Pathname: "/slow"}, request.NewOptions())
	require.NoError(t, err)
	f := tr.Issue(context.Background(), descriptor)
	<-started
	assert.True(t, f.Cancel())

	spans := tel.spans()
	require.Equal(t, []string{"go.svc.client.request"}, spanNames(spans))
	root := spans[0]
	assert.Equal(t, codes.Error, root.Status.Code)
	assert.Equal(t, "future cancelled", root.Status.Description)
	assert.Equal(t, true, attrsMap(root.Attributes)["http.cancelled"])

	metrics := tel.metrics(t)
	inFlight, ok := metrics["go.svc.client.request.in_flight"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, inFlight.DataPoints, 1)
	assert.Equal(t, int64(0), inFlight.DataPoints[0].Value)
}

func TestRealRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	t.Cleanup(srv.Close)

	metricExporter, err := export.New()
	require.NoError(t, err)
	tel := newTestTelemetry(t, metricExporter)

	tr, err := transport.New(
		transport.WithHostname("127.0.0.1"),
		transport.WithPort(srv.Listener.Addr().(*net.TCPAddr).Port),
		transport.WithAgent(nil),
		tel.factoryOption(),
	)
	require.NoError(t, err)

	ctx := context.Background()
	descriptor, err := request.Build(http.MethodGet, request.Defaults{Pathname: "/"}, request.NewOptions())
	require.NoError(t, err)
	res, err := tr.Issue(ctx, descriptor).Await(ctx)
	require.NoError(t, err)
	_, err = io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	// All spans must be finished
	spans := tel.spans()
	for _, span := range spans {
		assert.NotZero(t, span.StartTime)
		assert.NotZero(t, span.EndTime)
	}
	assert.Equal(t, []string{
		"go.svc.client.request",
		"http.getconn",
		"http.connect",
		"http.headers",
		"http.send",
		"http.receive",
		"go.svc.client.response.body",
	}, spanNames(spans))

	// Assert metrics
	var metricNames []string
	for name := range tel.metrics(t) {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)
	assert.Equal(t, []string{
		"go.svc.client.request.duration",
		"go.svc.client.request.in_flight",
		"go.svc.client.response.body.duration",
	}, metricNames)
}
