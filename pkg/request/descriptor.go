package request

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

const (
	// DefaultJSONContentType is set for JSON bodies, if no "content-type" header is set.
	DefaultJSONContentType = "application/json; charset=utf-8"
	// DefaultFormContentType is set for form bodies, if no "content-type" header is set.
	DefaultFormContentType = "application/x-www-form-urlencoded; charset=utf-8"
)

// Defaults of a service endpoint, the Options of each request are layered on top of them.
type Defaults struct {
	Pathname   string
	Query      QueryParams
	Headers    HeaderFields
	Credential any
}

// Header maps a lowercase header name to its values.
type Header map[string][]string

// Body of a request, only one of the fields is set.
type Body struct {
	Stream io.Reader
	Chunk  []byte
}

// Descriptor is an immutable description of one request.
type Descriptor struct {
	method     string
	path       string
	header     Header
	body       *Body
	credential any
}

// Build creates the request Descriptor from the Defaults and the per-call Options.
// The path is built first, then the headers, the body and finally the credential.
// The body may set the "content-type" header.
func Build(method string, defaults Defaults, opts Options) (*Descriptor, error) {
	d := &Descriptor{method: method}

	// Defaults are copied, header names are lowercased
	var err error
	if defaults.Query, err = defaults.Query.Normalize(); err != nil {
		return nil, err
	}
	if defaults.Headers, err = defaults.Headers.Normalize(); err != nil {
		return nil, err
	}

	if d.path, err = buildPath(defaults.Pathname, defaults.Query, opts); err != nil {
		return nil, err
	}
	if d.header, err = buildHeader(defaults.Headers, opts); err != nil {
		return nil, err
	}
	if d.body, err = d.buildBody(opts); err != nil {
		return nil, err
	}
	d.credential = buildCredential(defaults.Credential, opts)
	return d, nil
}

// ValidatePathname checks that the pathname is not empty and has no search component.
func ValidatePathname(pathname string) error {
	if pathname == "" {
		return fmt.Errorf("%w: expected `pathname` to be a non-empty string", ErrInvalidConfig)
	}
	if strings.Contains(pathname, "?") {
		return fmt.Errorf("%w: `pathname` cannot contain `?`", ErrInvalidConfig)
	}
	return nil
}

func buildPath(defaultPathname string, baseQuery QueryParams, opts Options) (string, error) {
	path := defaultPathname
	if opts.pathname != nil {
		path = *opts.pathname
	}
	if err := ValidatePathname(path); err != nil {
		return "", err
	}

	if opts.hasQuery && opts.query == nil {
		return "", fmt.Errorf("%w: expected `query` to be a map", ErrInvalidConfig)
	}
	params, err := mergeQuery(baseQuery, opts.query)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return path, nil
}

func buildHeader(base HeaderFields, opts Options) (Header, error) {
	header := make(Header)

	if opts.hasHeaders {
		if opts.headers == nil {
			return nil, fmt.Errorf("%w: expected `headers` to be a map", ErrInvalidConfig)
		}
		fields, err := NormalizeHeaders(opts.headers)
		if err != nil {
			return nil, err
		}
		for _, field := range fields {
			header[field.Name] = field.Values
		}
	}

	// Defaults only fill the gaps
	for _, field := range base {
		if _, found := header[field.Name]; !found {
			header[field.Name] = field.Values
		}
	}

	return header, nil
}

func (d *Descriptor) buildBody(opts Options) (*Body, error) {
	// Only one body option is allowed
	var present []string
	for _, o := range []struct {
		name    string
		defined bool
	}{
		{"stream", opts.hasStream},
		{"chunk", opts.hasChunk},
		{"json", opts.hasJSON},
		{"form", opts.hasForm},
	} {
		if o.defined {
			present = append(present, o.name)
		}
	}
	if len(present) > 1 {
		return nil, fmt.Errorf("%w: unexpected `%s` option when `%s` is present", ErrConflictingBodyOption, present[1], present[0])
	}

	switch {
	case opts.hasStream:
		if opts.stream == nil {
			return nil, fmt.Errorf("%w: expected `stream` to be a reader", ErrInvalidValue)
		}
		return &Body{Stream: opts.stream}, nil
	case opts.hasChunk:
		if opts.chunk == nil {
			return nil, fmt.Errorf("%w: expected `chunk` to be a buffer", ErrInvalidValue)
		}
		return &Body{Chunk: opts.chunk}, nil
	case opts.hasJSON:
		if opts.json == Undefined {
			return nil, fmt.Errorf("%w: unexpected undefined value for `json`", ErrInvalidValue)
		}
		chunk, err := encodeJSON(opts.json)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot encode `json`: %s", ErrInvalidValue, err.Error())
		}
		d.setDefaultContentType(DefaultJSONContentType)
		return &Body{Chunk: chunk}, nil
	case opts.hasForm:
		if opts.form == nil {
			return nil, fmt.Errorf("%w: expected `form` to be a map", ErrInvalidValue)
		}
		params, err := mergeQuery(nil, opts.form)
		if err != nil {
			return nil, err
		}
		d.setDefaultContentType(DefaultFormContentType)
		return &Body{Chunk: []byte(params.Encode())}, nil
	default:
		return nil, nil
	}
}

func (d *Descriptor) setDefaultContentType(contentType string) {
	if _, found := d.header["content-type"]; !found {
		d.header["content-type"] = []string{contentType}
	}
}

func buildCredential(credential any, opts Options) any {
	if opts.hasCredential {
		return opts.credential
	}
	return credential
}

// Method returns the HTTP method.
func (d *Descriptor) Method() string {
	return d.method
}

// Path returns the pathname with an optional "?" search component.
func (d *Descriptor) Path() string {
	return d.path
}

// Header returns a copy of the headers, names are lowercase.
func (d *Descriptor) Header() Header {
	return d.header.Clone()
}

// Body returns a copy of the body definition, or nil if there is no body.
func (d *Descriptor) Body() *Body {
	if d.body == nil {
		return nil
	}
	body := *d.body
	return &body
}

// Credential returns the credential, its format depends on the transport.
func (d *Descriptor) Credential() any {
	return d.credential
}

// Get returns the first value of the header, or an empty string.
func (h Header) Get(name string) string {
	if values := h[strings.ToLower(name)]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// Values returns all values of the header.
func (h Header) Values(name string) []string {
	return h[strings.ToLower(name)]
}

// Has returns true if the header is defined.
func (h Header) Has(name string) bool {
	_, found := h[strings.ToLower(name)]
	return found
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for name, values := range maps.All(h) {
		out[name] = slices.Clone(values)
	}
	return out
}
