// Package decode decodes compressed response bodies, see the Content-Encoding header.
package decode

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is the value of the Accept-Encoding header for supported encodings.
const AcceptEncoding = "gzip, br"

// Decode wraps the body by a decoder for the content encoding.
// The body is returned unchanged if the encoding is empty or unknown.
// Close of the returned reader closes also the original body.
func Decode(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	contentEncoding = strings.ToLower(strings.TrimSpace(contentEncoding))
	switch contentEncoding {
	case "gzip":
		if v, err := gzip.NewReader(body); err == nil {
			return &decoder{Reader: v, closers: []io.Closer{v, body}}, nil
		} else {
			return nil, fmt.Errorf("cannot decode gzip: %w", err)
		}
	case "br":
		return &decoder{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, nil
	default:
		return body, nil
	}
}

// Response decodes the response body in place.
// Content-Encoding and Content-Length headers are removed, they are not valid for the decoded body.
func Response(res *http.Response) error {
	encoding := res.Header.Get("Content-Encoding")
	if encoding == "" || res.Body == nil || res.Body == http.NoBody {
		return nil
	}

	body, err := Decode(res.Body, encoding)
	if err != nil {
		return err
	}
	if body != res.Body {
		res.Body = body
		res.Header.Del("Content-Encoding")
		res.Header.Del("Content-Length")
		res.ContentLength = -1
		res.Uncompressed = true
	}
	return nil
}

type decoder struct {
	io.Reader
	closers []io.Closer
}

func (d *decoder) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
