package trace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keboola/go-svc/pkg/request"
)

type logTrace struct {
	ClientTrace
	wr   io.Writer
	lock *sync.Mutex
}

// LogTracer writes one line for each stage of each issued request.
// Lines of concurrent requests are distinguished by the request number.
func LogTracer(wr io.Writer) Factory {
	var idGenerator uint64
	lock := &sync.Mutex{}
	return func(ctx context.Context, descriptor *request.Descriptor) (context.Context, *ClientTrace) {
		requestID := atomic.AddUint64(&idGenerator, 1)

		// The request may fail before it is sent, so the descriptor is the fallback
		method, url := descriptor.Method(), descriptor.Path()
		startTime := time.Now()
		var connStartTime time.Time
		var doneTime time.Time

		t := &logTrace{wr: wr, lock: lock}
		t.ConnectStart = func(network, addr string) {
			connStartTime = time.Now()
		}
		t.GotConn = func(info httptrace.GotConnInfo) {
			var infoStr string
			if info.Reused {
				if info.WasIdle {
					infoStr = fmt.Sprintf("reused conn (was idle=%s)", info.IdleTime)
				} else {
					infoStr = "reused conn"
				}
			} else {
				infoStr = fmt.Sprintf("new conn | %s", time.Since(connStartTime))
			}
			t.log(requestID, fmt.Sprintf(`CONN   %s "%s" | %s`, method, url, infoStr))
		}
		t.RequestStart = func(r *http.Request) {
			method = r.Method
			url = r.URL.String()
			startTime = time.Now()
			t.log(requestID, fmt.Sprintf(`START  %s "%s"`, method, url))
		}
		t.RequestDone = func(r *http.Response, sentBytes int64, err error) {
			doneTime = time.Now()
			var statusCode int
			var errorStr string
			if err == nil {
				statusCode = r.StatusCode
			} else {
				errorStr = fmt.Sprintf(" | error=%s", err)
			}
			t.log(requestID, fmt.Sprintf(`DONE   %s "%s" | %d | %dB | %s%s`, method, url, statusCode, sentBytes, doneTime.Sub(startTime).String(), errorStr))
		}
		t.BodyDone = func(receivedBytes int64, err error) {
			var errorStr string
			if err != nil {
				errorStr = fmt.Sprintf(" | error=%s", err)
			}
			t.log(requestID, fmt.Sprintf(`BODY   %s "%s" | %dB | %s%s`, method, url, receivedBytes, time.Since(doneTime).String(), errorStr))
		}
		t.RequestCancelled = func() {
			t.log(requestID, fmt.Sprintf(`CANCEL %s "%s" | %s`, method, url, time.Since(startTime).String()))
		}
		return ctx, &t.ClientTrace
	}
}

func (t *logTrace) log(requestID uint64, a ...any) {
	t.lock.Lock()
	defer t.lock.Unlock()
	a = append([]any{fmt.Sprintf("HTTP_REQUEST[%04d]", requestID)}, a...)
	_, _ = fmt.Fprintln(t.wr, a...)
}
