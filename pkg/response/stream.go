package response

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/keboola/go-svc/pkg/future"
)

// ErrStreamClosed is returned by Stream.Read after Close.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a readable view of the response body.
//
// Read blocks until the response is available.
// The body can be consumed only once, by one reader.
// If the request fails, the failure reason is emitted exactly once to the OnError listeners,
// and it is returned by Read and Err.
// If the request is cancelled, Read returns future.ErrCancelled, but no error is emitted.
type Stream struct {
	ready chan struct{}

	lock      sync.Mutex
	body      io.ReadCloser
	err       error
	emitted   bool
	closed    bool
	listeners []func(err error)
}

func newStream(src *future.Future[*http.Response]) *Stream {
	s := &Stream{ready: make(chan struct{})}
	go s.watch(src)
	return s
}

func (s *Stream) watch(src *future.Future[*http.Response]) {
	<-src.Done()
	res, err := src.Await(context.Background())

	s.lock.Lock()
	var listeners []func(err error)
	switch {
	case err == nil:
		body := res.Body
		if body == nil {
			body = http.NoBody
		}
		if s.closed {
			_ = body.Close()
		} else {
			s.body = body
		}
	case errors.Is(err, future.ErrCancelled) && src.State() == future.StateCancelled:
		s.err = future.ErrCancelled
	default:
		s.err = err
		s.emitted = true
		listeners = s.listeners
		s.listeners = nil
	}
	close(s.ready)
	s.lock.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

// OnError registers a listener for the failure of the request.
// If the failure has already been emitted, the listener is called immediately.
func (s *Stream) OnError(fn func(err error)) {
	s.lock.Lock()
	if !s.emitted {
		s.listeners = append(s.listeners, fn)
		s.lock.Unlock()
		return
	}
	err := s.err
	s.lock.Unlock()
	fn(err)
}

// Ready returns a channel which is closed when the body or the failure is available.
func (s *Stream) Ready() <-chan struct{} {
	return s.ready
}

// Err returns the failure reason, if the request has failed or has been cancelled.
func (s *Stream) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Read reads the response body, it blocks until the response is available.
func (s *Stream) Read(p []byte) (int, error) {
	<-s.ready

	s.lock.Lock()
	body, err, closed := s.body, s.err, s.closed
	s.lock.Unlock()

	switch {
	case err != nil:
		return 0, err
	case closed:
		return 0, ErrStreamClosed
	default:
		return body.Read(p)
	}
}

// Close closes the response body.
// If the response is not available yet, the body is closed when it arrives.
func (s *Stream) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
