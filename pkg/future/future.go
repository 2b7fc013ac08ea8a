// Package future provides a single-resolution asynchronous value with cancellation.
//
// A Future is pending until it is resolved with a value, rejected with an error or cancelled.
// The first transition wins, all later attempts are ignored.
// Cancellation is not an error: Await of a cancelled Future returns ErrCancelled,
// but no rejection reason is ever delivered.
package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is returned by Await if the Future has been cancelled.
var ErrCancelled = errors.New("future cancelled")

// State of a Future.
type State int

const (
	StatePending State = iota
	StateResolved
	StateRejected
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Future is a goroutine-safe single-resolution asynchronous value.
type Future[T any] struct {
	lock     sync.Mutex
	done     chan struct{}
	state    State
	value    T
	err      error
	onCancel func()
}

// New creates a pending Future and runs the executor synchronously.
//
// The executor starts an operation which settles the Future by resolve or reject.
// Both functions return false if the Future was already settled.
// The returned cancel function, if not nil, is called at most once, when the Future is cancelled while pending.
func New[T any](executor func(resolve func(T) bool, reject func(error) bool) (cancel func())) *Future[T] {
	f := newPending[T]()
	cancel := executor(f.resolve, f.reject)
	if cancel != nil {
		f.lock.Lock()
		// The executor may have settled the future synchronously
		if f.state == StatePending {
			f.onCancel = cancel
		}
		f.lock.Unlock()
	}
	return f
}

// Resolved creates an already resolved Future.
func Resolved[T any](value T) *Future[T] {
	f := newPending[T]()
	f.resolve(value)
	return f
}

// Rejected creates an already rejected Future.
func Rejected[T any](err error) *Future[T] {
	f := newPending[T]()
	f.reject(err)
	return f
}

func newPending[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done returns a channel which is closed when the Future is settled or cancelled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// State returns the current state.
func (f *Future[T]) State() State {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.state
}

// Await blocks until the Future is settled or the context is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		var empty T
		return empty, ctx.Err()
	}
}

// Cancel cancels the pending Future and aborts the operation behind it.
// It returns false, without any other effect, if the Future is already settled or cancelled.
func (f *Future[T]) Cancel() bool {
	f.lock.Lock()
	if f.state != StatePending {
		f.lock.Unlock()
		return false
	}
	f.state = StateCancelled
	onCancel := f.onCancel
	f.onCancel = nil
	close(f.done)
	f.lock.Unlock()

	if onCancel != nil {
		onCancel()
	}
	return true
}

func (f *Future[T]) result() (T, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	switch f.state {
	case StateResolved:
		return f.value, nil
	case StateRejected:
		var empty T
		return empty, f.err
	case StateCancelled:
		var empty T
		return empty, ErrCancelled
	default:
		panic(errors.New("future is pending"))
	}
}

func (f *Future[T]) resolve(value T) bool {
	return f.settle(StateResolved, value, nil)
}

func (f *Future[T]) reject(err error) bool {
	if err == nil {
		err = errors.New("future rejected with nil error")
	}
	var empty T
	return f.settle(StateRejected, empty, err)
}

func (f *Future[T]) settle(state State, value T, err error) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.state != StatePending {
		return false
	}
	f.state = state
	f.value = value
	f.err = err
	f.onCancel = nil
	close(f.done)
	return true
}

// Then derives a new Future from the source Future.
// The derived Future is resolved with the result of fn, or rejected with the error of fn or of the source.
// If the source is cancelled, the derived Future is cancelled too.
// Cancelling the derived Future stops waiting, but it doesn't cancel the source.
func Then[T, U any](src *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newPending[U]()
	stop := make(chan struct{})
	out.onCancel = func() { close(stop) }

	go func() {
		select {
		case <-src.Done():
		case <-stop:
			return
		}

		value, err := src.result()
		switch {
		case errors.Is(err, ErrCancelled) && src.State() == StateCancelled:
			out.Cancel()
		case err != nil:
			out.reject(err)
		default:
			if mapped, err := fn(value); err != nil {
				out.reject(err)
			} else {
				out.resolve(mapped)
			}
		}
	}()

	return out
}
