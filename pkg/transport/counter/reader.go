// Package counter measures the size of request and response bodies.
package counter

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ReadCloser wraps an io.ReadCloser (request/response body) to count bytes read from the reader.
// Optionally, an OnClose callback can be registered, it is called only once, on the first Close.
// Bytes can be called concurrently with Read, the http.Transport reads the request body in its own goroutine.
type ReadCloser struct {
	wrapped   io.ReadCloser
	onClose   OnClose
	bytes     atomic.Int64
	readErr   error
	closeOnce sync.Once
	closeErr  error
}

type OnClose func(bytes int64, err error)

func NewReadCloser(wrapped io.ReadCloser, onClose OnClose) *ReadCloser {
	return &ReadCloser{wrapped: wrapped, onClose: onClose}
}

// NewReader wraps an io.Reader without the Close method, for example a request body stream.
func NewReader(wrapped io.Reader, onClose OnClose) *ReadCloser {
	if rc, ok := wrapped.(io.ReadCloser); ok {
		return NewReadCloser(rc, onClose)
	}
	return NewReadCloser(io.NopCloser(wrapped), onClose)
}

func (w *ReadCloser) Bytes() int64 {
	return w.bytes.Load()
}

func (w *ReadCloser) Read(b []byte) (int, error) {
	n, err := w.wrapped.Read(b)
	w.bytes.Add(int64(n))
	w.readErr = err
	return n, err
}

func (w *ReadCloser) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.wrapped.Close()
		if w.onClose != nil {
			// Prefer read error before close error for onClose callback, it is usually more useful
			var onCloseErr error
			if w.readErr != nil && !errors.Is(w.readErr, io.EOF) {
				onCloseErr = w.readErr
			} else if w.closeErr != nil {
				onCloseErr = w.closeErr
			}
			w.onClose(w.bytes.Load(), onCloseErr)
		}
	})
	return w.closeErr
}
