// Package otel provides OpenTelemetry tracing and metrics for issued requests.
//
// The package provides 2 types of telemetry:
//
// 1. Request telemetry
//   - Span "go.svc.client.request" wraps the whole request, from the issue to the close of the response body.
//   - The span is ended when the response body is closed, the request fails or it is cancelled.
//   - Span "go.svc.client.response.body" tracks receiving of the response body.
//   - Metrics names start with "go.svc.client." (meterPrefix const), see the meters struct.
//
// 2. Low-level telemetry
//   - It provides spans for HTTP request parts, for example: "http.dns", "http.tls", "http.getconn".
//   - Span names start with "http.".
//   - Metrics are not provided.
//   - The spans are not created if the agent does not report httptrace events, for example a mocked agent.
package otel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelMetric "go.opentelemetry.io/otel/metric"
	metricNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keboola/go-svc/pkg/future"
	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/transport/trace"
)

const (
	traceAppName     = "github.com/keboola/go-svc"
	attrResourceName = attribute.Key("resource.name")
	// Request tracing.
	clientSpanPrefix      = "go.svc.client."
	clientRequestSpanName = clientSpanPrefix + "request"
	clientBodySpanName    = clientSpanPrefix + "response.body"
	attrWroteBytes        = attribute.Key("http.wrote_bytes")
	attrReadBytes         = attribute.Key("http.read_bytes")
	attrCancelled         = attribute.Key("http.cancelled")
	// Low-level tracing.
	httpSpanPrefix             = "http."
	httpDNSSpanName            = httpSpanPrefix + "dns"
	httpGetConnSpanName        = httpSpanPrefix + "getconn"
	httpConnectSpanName        = httpSpanPrefix + "connect"
	httpTLSHandshakeSpanName   = httpSpanPrefix + "tls"
	httpHeadersSpanName        = httpSpanPrefix + "headers"
	httpSendSpanName           = httpSpanPrefix + "send"
	httpReceiveSpanName        = httpSpanPrefix + "receive"
	attrDNSAddresses           = attribute.Key("http.dns.addrs")
	attrRemoteAddr             = attribute.Key("http.remote")
	attrLocalAddr              = attribute.Key("http.local")
	attrConnectionReused       = attribute.Key("http.conn.reused")
	attrConnectionWasIdle      = attribute.Key("http.conn.wasidle")
	attrConnectionIdleTime     = attribute.Key("http.conn.idletime")
	attrConnectionStartNetwork = attribute.Key("http.conn.start.network")
	attrConnectionDoneNetwork  = attribute.Key("http.conn.done.network")
	attrConnectionDoneAddr     = attribute.Key("http.conn.done.addr")
	// Extra attributes for DataDog.
	attrSpanKind            = attribute.Key("span.kind")
	attrSpanKindValueClient = "client"
	attrSpanType            = attribute.Key("span.type")
	attrSpanTypeValueHTTP   = "http"
)

// NewTrace creates a trace.Factory, register it by the transport.WithTrace option.
// Nil providers are replaced by noop implementations.
func NewTrace(tracerProvider otelTrace.TracerProvider, meterProvider otelMetric.MeterProvider, opts ...Option) trace.Factory {
	cfg := newConfig(opts)
	if tracerProvider == nil {
		tracerProvider = noop.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = metricNoop.NewMeterProvider()
	}
	tracer := tracerProvider.Tracer(traceAppName)
	meters := newMeters(meterProvider.Meter(traceAppName))

	return func(ctx context.Context, descriptor *request.Descriptor) (context.Context, *trace.ClientTrace) {
		tc := &trace.ClientTrace{}
		attrs := newAttributes(cfg, descriptor)

		// Metrics
		startTime := time.Now()
		meters.inFlight.Add(ctx, 1, otelMetric.WithAttributes(attrs.definition...))

		// Root span, it is ended when the body is closed, the request fails or it is cancelled
		rootCtx, rootSpan := tracer.Start(
			ctx,
			clientRequestSpanName,
			otelTrace.WithSpanKind(otelTrace.SpanKindClient),
			otelTrace.WithAttributes(
				attrResourceName.String(attrs.path),
				attrSpanKind.String(attrSpanKindValueClient),
				attrSpanType.String(attrSpanTypeValueHTTP),
			),
			otelTrace.WithAttributes(attrs.definition...),
			otelTrace.WithAttributes(attrs.definitionExtra...),
		)
		var finishOnce sync.Once
		finish := func() {
			finishOnce.Do(func() {
				meters.inFlight.Add(rootCtx, -1, otelMetric.WithAttributes(attrs.definition...)) // same attributes/dimensions as above (+1)!
				rootSpan.End()
			})
		}

		// Request
		var receiveSpan otelTrace.Span
		var bodySpan otelTrace.Span
		var headersTime time.Time
		tc.RequestStart = func(req *http.Request) {
			// Inject trace headers
			if cfg.propagators != nil {
				cfg.propagators.Inject(rootCtx, propagation.HeaderCarrier(req.Header))
			}

			attrs.SetFromRequest(req)
			rootSpan.SetAttributes(attrs.httpRequest...)
			rootSpan.SetAttributes(attrs.httpRequestExtra...)
		}
		tc.GotFirstResponseByte = func() {
			_, receiveSpan = tracer.Start(rootCtx, httpReceiveSpanName, otelTrace.WithSpanKind(otelTrace.SpanKindClient))
		}
		tc.RequestDone = func(res *http.Response, sentBytes int64, err error) {
			headersTime = time.Now()
			elapsedTime := float64(headersTime.Sub(startTime)) / float64(time.Millisecond)
			attrs.SetFromResponse(res, err)

			// Metrics
			meters.duration.Record(
				rootCtx,
				elapsedTime,
				otelMetric.WithAttributes(attrs.definition...),
				otelMetric.WithAttributes(attrs.httpRequest...),
				otelMetric.WithAttributes(attrs.httpResponse...),
			)

			// Tracing
			if receiveSpan != nil {
				receiveSpan.End()
				receiveSpan = nil
			}
			rootSpan.SetAttributes(attrs.httpResponse...)
			rootSpan.SetAttributes(attrs.httpResponseExtra...)
			rootSpan.SetAttributes(attrWroteBytes.Int64(sentBytes))
			switch {
			case err != nil:
				rootSpan.RecordError(err)
				rootSpan.SetStatus(codes.Error, err.Error())
				finish()
				return
			case res.StatusCode >= http.StatusBadRequest:
				httpErr := fmt.Errorf(`HTTP status code: %d %s`, res.StatusCode, http.StatusText(res.StatusCode))
				rootSpan.RecordError(httpErr)
				rootSpan.SetStatus(codes.Error, httpErr.Error())
			}

			_, bodySpan = tracer.Start(
				rootCtx,
				clientBodySpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(semconv.HTTPStatusCodeKey.Int(res.StatusCode)),
			)
		}
		tc.BodyDone = func(receivedBytes int64, err error) {
			elapsedTime := float64(time.Since(headersTime)) / float64(time.Millisecond)

			// Metrics
			meters.bodyDuration.Record(
				rootCtx,
				elapsedTime,
				otelMetric.WithAttributes(attrs.definition...),
				otelMetric.WithAttributes(attrs.httpResponse...),
			)

			// Tracing
			if bodySpan != nil {
				bodySpan.SetAttributes(attrReadBytes.Int64(receivedBytes))
				if err != nil {
					bodySpan.RecordError(err)
					bodySpan.SetStatus(codes.Error, err.Error())
				}
				bodySpan.End()
				bodySpan = nil
			}
			finish()
		}
		tc.RequestCancelled = func() {
			rootSpan.SetAttributes(attrCancelled.Bool(true))
			rootSpan.SetStatus(codes.Error, future.ErrCancelled.Error())
			finish()
		}

		// Register low-level tracing.
		// "otelhttptrace" pkg from the opentelemetry-contrib module is buggy, does not end spans:
		// https://github.com/open-telemetry/opentelemetry-go-contrib/issues/399
		registerLowLevelTrace(rootCtx, tracer, tc)

		return rootCtx, tc
	}
}

func registerLowLevelTrace(ctx context.Context, tracer otelTrace.Tracer, tc *trace.ClientTrace) {
	// httptrace: DNS
	{
		var dnsSpan otelTrace.Span
		tc.DNSStart = func(info httptrace.DNSStartInfo) {
			_, dnsSpan = tracer.Start(
				ctx,
				httpDNSSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(semconv.NetHostName(info.Host)),
			)
		}
		tc.DNSDone = func(info httptrace.DNSDoneInfo) {
			if dnsSpan != nil {
				var addrs []string
				for _, netAddr := range info.Addrs {
					addrs = append(addrs, netAddr.String())
				}
				dnsSpan.SetAttributes(attrDNSAddresses.String(strings.Join(addrs, ";")))
				if info.Err != nil {
					dnsSpan.RecordError(info.Err)
					dnsSpan.SetStatus(codes.Error, info.Err.Error())
				}
				dnsSpan.End()
				dnsSpan = nil
			}
		}
	}
	// httptrace: Get connection
	{
		var getConnSpan otelTrace.Span
		tc.GetConn = func(host string) {
			_, getConnSpan = tracer.Start(
				ctx,
				httpGetConnSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(semconv.NetHostName(host)),
			)
		}
		tc.GotConn = func(info httptrace.GotConnInfo) {
			if getConnSpan != nil {
				getConnSpan.SetAttributes(
					attrRemoteAddr.String(info.Conn.RemoteAddr().String()),
					attrLocalAddr.String(info.Conn.LocalAddr().String()),
					attrConnectionReused.Bool(info.Reused),
					attrConnectionWasIdle.Bool(info.WasIdle),
				)
				if info.WasIdle {
					getConnSpan.SetAttributes(attrConnectionIdleTime.String(info.IdleTime.String()))
				}
				getConnSpan.End()
				getConnSpan = nil
			}
		}
	}
	// httptrace: Connect
	{
		var connectSpan otelTrace.Span
		tc.ConnectStart = func(network, addr string) {
			_, connectSpan = tracer.Start(
				ctx,
				httpConnectSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				otelTrace.WithAttributes(
					attrRemoteAddr.String(addr),
					attrConnectionStartNetwork.String(network),
				),
			)
		}
		tc.ConnectDone = func(network, addr string, err error) {
			if connectSpan != nil {
				connectSpan.SetAttributes(
					attrConnectionDoneAddr.String(addr),
					attrConnectionDoneNetwork.String(network),
				)
				if err != nil {
					connectSpan.RecordError(err)
					connectSpan.SetStatus(codes.Error, err.Error())
				}
				connectSpan.End()
				connectSpan = nil
			}
		}
	}
	// httptrace: TLS handshake
	{
		var tlsSpan otelTrace.Span
		tc.TLSHandshakeStart = func() {
			_, tlsSpan = tracer.Start(
				ctx,
				httpTLSHandshakeSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
			)
		}
		tc.TLSHandshakeDone = func(_ tls.ConnectionState, err error) {
			if tlsSpan != nil {
				if err != nil {
					tlsSpan.RecordError(err)
					tlsSpan.SetStatus(codes.Error, err.Error())
				}
				tlsSpan.End()
				tlsSpan = nil
			}
		}
	}
	// httptrace: headers, send
	{
		var headersSpan otelTrace.Span
		var sendSpan otelTrace.Span
		tc.WroteHeaderField = func(_ string, _ []string) {
			// Start headers span at first header
			if headersSpan == nil {
				_, headersSpan = tracer.Start(
					ctx,
					httpHeadersSpanName,
					otelTrace.WithSpanKind(otelTrace.SpanKindClient),
				)
			}
		}
		tc.WroteHeaders = func() {
			// End headers span, if any
			if headersSpan != nil {
				headersSpan.End()
				headersSpan = nil
			}

			// Start send span
			_, sendSpan = tracer.Start(
				ctx,
				httpSendSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
			)
		}
		tc.WroteRequest = func(info httptrace.WroteRequestInfo) {
			if sendSpan != nil {
				if info.Err != nil {
					sendSpan.RecordError(info.Err)
					sendSpan.SetStatus(codes.Error, info.Err.Error())
				}
				sendSpan.End()
				sendSpan = nil
			}
		}
	}
}
