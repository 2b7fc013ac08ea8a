package client

import (
	"context"
)

// ParallelCalls is a group of requests sent concurrently as one Sendable.
type ParallelCalls []Sendable

// Parallel wraps parallel requests to one Sendable interface.
// All requests are sent, the errors are collected by the WaitGroup.
func Parallel(calls ...Sendable) ParallelCalls {
	return calls
}

func (v ParallelCalls) SendOrErr(ctx context.Context) error {
	wg := NewWaitGroup(ctx)
	for _, r := range v {
		wg.Send(r)
	}
	return wg.Wait()
}
