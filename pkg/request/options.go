package request

import (
	"io"

	"github.com/keboola/go-utils/pkg/orderedmap"
)

// Undefined is a JSON body value that cannot be serialized, WithJSON(Undefined) fails on Build.
var Undefined = undefined{} //nolint:gochecknoglobals

type undefined struct{}

// Options are per-call overrides of the endpoint Defaults.
// Options value is immutable, each With* method returns a modified copy.
// The zero value is valid and overrides nothing.
type Options struct {
	pathname      *string
	query         *orderedmap.OrderedMap
	hasQuery      bool
	headers       *orderedmap.OrderedMap
	hasHeaders    bool
	credential    any
	hasCredential bool
	stream        io.Reader
	hasStream     bool
	chunk         []byte
	hasChunk      bool
	json          any
	hasJSON       bool
	form          *orderedmap.OrderedMap
	hasForm       bool
}

// NewOptions creates empty Options.
func NewOptions() Options {
	return Options{}
}

// WithPathname overrides the default pathname. It must be non-empty and without "?".
func (o Options) WithPathname(pathname string) Options {
	o.pathname = &pathname
	return o
}

// WithQuery sets query parameters, they replace the default parameters with the same name.
func (o Options) WithQuery(query *orderedmap.OrderedMap) Options {
	o.query = cloneMap(query)
	o.hasQuery = true
	return o
}

// WithHeaders sets headers, they take precedence over the default headers.
func (o Options) WithHeaders(headers *orderedmap.OrderedMap) Options {
	o.headers = cloneMap(headers)
	o.hasHeaders = true
	return o
}

// WithCredential overrides the default credential, even if the value is nil.
func (o Options) WithCredential(credential any) Options {
	o.credential = credential
	o.hasCredential = true
	return o
}

// WithStream sets a body stream which is piped to the service.
func (o Options) WithStream(stream io.Reader) Options {
	o.stream = stream
	o.hasStream = true
	return o
}

// WithChunk sets a body buffer which is written to the service.
func (o Options) WithChunk(chunk []byte) Options {
	o.chunk = chunk
	o.hasChunk = true
	return o
}

// WithJSON sets a body value which is encoded to JSON.
// If no "content-type" header is set, DefaultJSONContentType is used.
func (o Options) WithJSON(value any) Options {
	o.json = value
	o.hasJSON = true
	return o
}

// WithForm sets a body map which is URL-encoded.
// If no "content-type" header is set, DefaultFormContentType is used.
func (o Options) WithForm(form *orderedmap.OrderedMap) Options {
	o.form = cloneMap(form)
	o.hasForm = true
	return o
}

// cloneMap makes a shallow copy, so later modifications of the source map don't change the options.
func cloneMap(in *orderedmap.OrderedMap) *orderedmap.OrderedMap {
	if in == nil {
		return nil
	}
	out := orderedmap.New()
	for _, key := range in.Keys() {
		value, _ := in.Get(key)
		out.Set(key, value)
	}
	return out
}
