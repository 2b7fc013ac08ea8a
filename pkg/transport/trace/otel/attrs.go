package otel

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/keboola/go-svc/pkg/request"
)

const (
	maskedAttrValue = "****"
	// maskedURLValue is not escaped in URLs.
	maskedURLValue = "...."
)

type attributes struct {
	config config
	// definition attributes for span and metrics
	definition []attribute.KeyValue
	// definitionExtra attributes for span only
	definitionExtra []attribute.KeyValue
	// httpRequest attributes for span and metrics
	httpRequest []attribute.KeyValue
	// httpRequestExtra attributes for span only
	httpRequestExtra []attribute.KeyValue
	// httpResponse attributes for span and metrics
	httpResponse []attribute.KeyValue
	// httpResponseExtra attributes for span only
	httpResponseExtra []attribute.KeyValue
	// path without the search component
	path string
}

func newAttributes(cfg config, descriptor *request.Descriptor) *attributes {
	out := &attributes{config: cfg}

	path, rawQuery, _ := strings.Cut(descriptor.Path(), "?")
	out.path = path

	// Definition base
	out.definition = []attribute.KeyValue{
		attribute.String("definition.method", descriptor.Method()),
		attribute.String("definition.url.path", path),
	}

	// Definition headers
	header := descriptor.Header()
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := strings.Join(header[name], ";")
		if cfg.isRedactedHeader(name) {
			value = maskedAttrValue
		}
		out.definitionExtra = append(out.definitionExtra, attribute.String("definition.header."+name, value))
	}

	// Definition query params, in the request order
	for _, pair := range splitQuery(rawQuery) {
		value := pair[1]
		if cfg.isRedactedQueryParam(pair[0]) {
			value = maskedAttrValue
		}
		out.definitionExtra = append(out.definitionExtra, attribute.String("definition.params.query."+pair[0], value))
	}

	return out
}

func (v *attributes) SetFromRequest(req *http.Request) {
	port := req.URL.Port()
	if port == "" {
		port = "80"
		if req.URL.Scheme == "https" {
			port = "443"
		}
	}
	portNum, _ := strconv.Atoi(port)

	// Base
	v.httpRequest = []attribute.KeyValue{
		semconv.HTTPMethodKey.String(req.Method),
		semconv.HTTPSchemeKey.String(req.URL.Scheme),
		semconv.NetPeerNameKey.String(req.URL.Hostname()),
		semconv.NetPeerPortKey.Int(portNum),
	}

	// Extra
	v.httpRequestExtra = append([]attribute.KeyValue{semconv.HTTPURLKey.String(v.redactURL(req.URL))}, v.headerAttrs("http.header.", req.Header)...)
}

func (v *attributes) SetFromResponse(res *http.Response, err error) {
	v.httpResponse = nil
	v.httpResponseExtra = nil

	if res != nil {
		v.httpResponse = append(v.httpResponse, semconv.HTTPStatusCodeKey.Int(res.StatusCode))
		if isRedirection(res) {
			v.httpResponse = append(v.httpResponse, attribute.Bool("http.is_redirection", true))
		}
		v.httpResponseExtra = v.headerAttrs("http.response.header.", res.Header)
	}

	if errType := errorType(res, err); errType != "" {
		v.httpResponse = append(v.httpResponse, attribute.String("http.error_type", errType))
	}
}

func (v *attributes) headerAttrs(prefix string, header http.Header) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for key, values := range header {
		key = strings.ToLower(key)
		value := strings.Join(values, ";")
		if v.config.isRedactedHeader(key) {
			value = maskedAttrValue
		}
		attrs = append(attrs, attribute.String(prefix+key, value))
	}
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Key < attrs[j].Key
	})
	return attrs
}

// redactURL masks redacted query params, the query order is kept.
func (v *attributes) redactURL(in *url.URL) string {
	u := *in
	u.User = nil
	if u.RawQuery != "" {
		parts := strings.Split(u.RawQuery, "&")
		for i, part := range parts {
			key, _, _ := strings.Cut(part, "=")
			if name, err := url.QueryUnescape(key); err == nil && v.config.isRedactedQueryParam(name) {
				parts[i] = key + "=" + maskedURLValue
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}
	return u.String()
}

// splitQuery returns unescaped key-value pairs of the raw query.
func splitQuery(rawQuery string) [][2]string {
	if rawQuery == "" {
		return nil
	}
	var out [][2]string
	for _, part := range strings.Split(rawQuery, "&") {
		key, value, _ := strings.Cut(part, "=")
		if v, err := url.QueryUnescape(key); err == nil {
			key = v
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		out = append(out, [2]string{key, value})
	}
	return out
}
