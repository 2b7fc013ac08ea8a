// Package trace extends the httptrace.ClientTrace and adds additional request life-cycle hooks.
// A custom ClientTrace definition can be registered in the transport by the transport.WithTrace option.
package trace

import (
	"context"
	"net/http"
	"net/http/httptrace"
	"reflect"

	"github.com/keboola/go-svc/pkg/request"
)

// Factory creates ClientTrace hooks for an issued request.
type Factory func(ctx context.Context, descriptor *request.Descriptor) (context.Context, *ClientTrace)

// ClientTrace is a set of hooks to run at various stages of an issued request.
type ClientTrace struct {
	httptrace.ClientTrace // native, low level trace
	// RequestStart is called when the request is sent.
	RequestStart func(request *http.Request)
	// RequestDone is called when the response headers are received or the request failed.
	RequestDone func(response *http.Response, sentBytes int64, err error)
	// BodyDone is called when the response body is closed.
	BodyDone func(receivedBytes int64, err error)
	// RequestCancelled is called when the in-flight request is cancelled.
	RequestCancelled func()
}

// Compose modifies t such that it respects the previously-registered hooks in old.
// Both hooks are called, old hook first.
// Copy of httptrace.compose, extended to the embedded httptrace.ClientTrace.
func (t *ClientTrace) Compose(old *ClientTrace) {
	if old == nil {
		return
	}
	compose(reflect.ValueOf(t).Elem(), reflect.ValueOf(old).Elem())
}

func compose(tv, ov reflect.Value) {
	structType := tv.Type()
	for i := 0; i < structType.NumField(); i++ {
		tf := tv.Field(i)
		of := ov.Field(i)
		hookType := tf.Type()

		// Embedded httptrace.ClientTrace
		if hookType.Kind() == reflect.Struct {
			compose(tf, of)
			continue
		}

		if hookType.Kind() != reflect.Func {
			continue
		}
		if of.IsNil() {
			continue
		}
		if tf.IsNil() {
			tf.Set(of)
			continue
		}

		// Make a copy of tf for tf to call. (Otherwise it
		// creates a recursive call cycle and stack overflows)
		tfCopy := reflect.ValueOf(tf.Interface())

		// We need to call both tf and of in some order.
		newFunc := reflect.MakeFunc(hookType, func(args []reflect.Value) []reflect.Value {
			of.Call(args)
			return tfCopy.Call(args)
		})
		tf.Set(newFunc)
	}
}

// ComposeFactories merges multiple factories, the hooks of all factories are called in the order of the factories.
func ComposeFactories(factories ...Factory) Factory {
	return func(ctx context.Context, descriptor *request.Descriptor) (context.Context, *ClientTrace) {
		var out *ClientTrace
		for _, factory := range factories {
			if factory == nil {
				continue
			}
			var t *ClientTrace
			ctx, t = factory(ctx, descriptor)
			if t == nil {
				continue
			}
			if out == nil {
				out = t
			} else {
				t.Compose(out)
				out = t
			}
		}
		return ctx, out
	}
}
