package request

import (
	"fmt"
	"slices"
	"strings"

	"github.com/keboola/go-utils/pkg/orderedmap"
)

// QueryParam is one query parameter, the value is already cast to string.
type QueryParam struct {
	Name  string
	Value string
}

// QueryParams is an ordered list of query parameters, a name may occur multiple times.
type QueryParams []QueryParam

// HeaderField is one header with a lowercase name.
// Values contains more items if the header value was defined as a list.
type HeaderField struct {
	Name   string
	Values []string
}

// HeaderFields is an ordered list of headers, a name may occur multiple times.
type HeaderFields []HeaderField

// NormalizeQuery converts the map to a list of query parameters, in the order of the map keys.
// The names must not be empty, the values are validated and cast by CastQueryValue.
func NormalizeQuery(query *orderedmap.OrderedMap) (QueryParams, error) {
	if query == nil {
		return nil, nil
	}
	var out QueryParams
	for _, name := range query.Keys() {
		if name == "" {
			return nil, fmt.Errorf("%w: unexpected empty param name", ErrInvalidValue)
		}
		value, _ := query.Get(name)
		v, err := CastQueryValue(value, name)
		if err != nil {
			return nil, err
		}
		out = append(out, QueryParam{Name: name, Value: v})
	}
	return out, nil
}

// NormalizeHeaders converts the map to a list of headers, in the order of the map keys.
// The names are lowercased, they must not be empty and must be unique case-insensitively.
// The values are validated and cast by CastHeaderValue.
func NormalizeHeaders(headers *orderedmap.OrderedMap) (HeaderFields, error) {
	if headers == nil {
		return nil, nil
	}
	var out HeaderFields
	encountered := make(map[string]bool)
	for _, name := range headers.Keys() {
		if name == "" {
			return nil, fmt.Errorf("%w: unexpected empty header name", ErrInvalidValue)
		}

		lowercased := strings.ToLower(name)
		if encountered[lowercased] {
			return nil, fmt.Errorf("%w: unexpected duplicate `%s` header", ErrDuplicateHeader, name)
		}
		encountered[lowercased] = true

		value, _ := headers.Get(name)
		values, err := CastHeaderValue(value, name)
		if err != nil {
			return nil, err
		}
		out = append(out, HeaderField{Name: lowercased, Values: values})
	}
	return out, nil
}

// Clone returns a copy of the list.
func (p QueryParams) Clone() QueryParams {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}

// Normalize returns a copy of the list, an empty name is an ErrInvalidValue.
func (p QueryParams) Normalize() (QueryParams, error) {
	for _, param := range p {
		if param.Name == "" {
			return nil, fmt.Errorf("%w: unexpected empty param name", ErrInvalidValue)
		}
	}
	return p.Clone(), nil
}

// Encode returns percent-encoded "name=value" pairs joined by "&".
func (p QueryParams) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(EncodeURIComponent(param.Name))
		b.WriteByte('=')
		b.WriteString(EncodeURIComponent(param.Value))
	}
	return b.String()
}

// Clone returns a deep copy of the list.
func (h HeaderFields) Clone() HeaderFields {
	if h == nil {
		return nil
	}
	out := make(HeaderFields, len(h))
	for i, field := range h {
		out[i] = HeaderField{Name: field.Name, Values: slices.Clone(field.Values)}
	}
	return out
}

// Normalize returns a deep copy of the list with lowercase names, an empty name is an ErrInvalidValue.
// Duplicate names are kept, the first one wins when the headers are merged.
func (h HeaderFields) Normalize() (HeaderFields, error) {
	out := h.Clone()
	for i := range out {
		if out[i].Name == "" {
			return nil, fmt.Errorf("%w: unexpected empty header name", ErrInvalidValue)
		}
		out[i].Name = strings.ToLower(out[i].Name)
	}
	return out, nil
}

// mergeQuery drops default parameters overridden by name, and appends the override parameters.
func mergeQuery(base QueryParams, override *orderedmap.OrderedMap) (QueryParams, error) {
	out := make(QueryParams, 0, len(base))
	for _, param := range base {
		if override != nil {
			if _, found := override.Get(param.Name); found {
				continue
			}
		}
		out = append(out, param)
	}

	extra, err := NormalizeQuery(override)
	if err != nil {
		return nil, err
	}
	return append(out, extra...), nil
}

// EncodeURIComponent percent-encodes the UTF-8 bytes of the string.
// Letters, digits and the characters - _ . ! ~ * ' ( ) are kept.
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
