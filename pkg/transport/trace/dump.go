package trace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/keboola/go-svc/pkg/request"
	"github.com/keboola/go-svc/pkg/transport/decode"
)

const dumpTraceMaxLength = 2000

type dumpTrace struct {
	ClientTrace
	wr   io.Writer
	lock *sync.Mutex
}

// DumpTracer dumps HTTP request and response to a writer.
// Output may contain unmasked tokens, do not use it in production!
func DumpTracer(wr io.Writer) Factory {
	lock := &sync.Mutex{}
	return func(ctx context.Context, _ *request.Descriptor) (context.Context, *ClientTrace) {
		var requestMethod, requestURI string
		var requestDump []byte
		var responseStatusCode int
		var startTime, headersTime time.Time

		t := &dumpTrace{wr: wr, lock: lock}
		t.RequestStart = func(r *http.Request) {
			startTime = time.Now()
			requestMethod = r.Method
			requestURI = r.URL.RequestURI()
			requestDump, _ = httputil.DumpRequestOut(r, true)
		}
		t.RequestDone = func(r *http.Response, _ int64, err error) {
			lines := []string{"", ">>>>>> HTTP DUMP", t.truncate(string(requestDump)), "------"}

			if err != nil {
				lines = append(lines, fmt.Sprint("ERROR: ", err))
			} else {
				responseStatusCode = r.StatusCode
				headersTime = time.Now()

				// Dump response headers
				if v, err := httputil.DumpResponse(r, false); err == nil {
					lines = append(lines, strings.TrimSpace(string(v)))
				} else {
					lines = append(lines, fmt.Sprint("cannot dump response headers: ", err))
				}

				// Dump response body
				if r.Body != nil && r.Body != http.NoBody {
					// Decode body and copy raw body to rawBody buffer
					var rawBody bytes.Buffer
					var decodedBody strings.Builder
					bodyReader, err := decode.Decode(io.NopCloser(io.TeeReader(r.Body, &rawBody)), r.Header.Get("Content-Encoding"))
					if err != nil {
						lines = append(lines, fmt.Sprint("cannot read response body: ", err))
					} else if _, err := io.Copy(&decodedBody, bodyReader); err != nil {
						lines = append(lines, fmt.Sprint("cannot read response body: ", err))
					}
					// Set buffered raw body back to the response, the original body must be still closed
					r.Body = &replacedBody{Reader: io.MultiReader(bytes.NewReader(rawBody.Bytes()), r.Body), Closer: r.Body}
					// Dump decoded response
					lines = append(lines, "------", t.truncate(decodedBody.String()))
				}
			}
			lines = append(lines, "<<<<<< HTTP DUMP END")
			t.log(lines...)
		}
		t.BodyDone = func(receivedBytes int64, err error) {
			t.log("", fmt.Sprint(">>>>>> HTTP BODY DONE", " | ", requestMethod, " ", requestURI, " ", responseStatusCode, " | BYTES: ", receivedBytes, " | ERROR: ", err, " | HEADERS AT: ", headersTime.Sub(startTime), " | DONE AT: ", time.Since(startTime)))
		}
		t.RequestCancelled = func() {
			t.log("", fmt.Sprint(">>>>>> HTTP CANCELLED", " | ", requestMethod, " ", requestURI, " | AFTER: ", time.Since(startTime)))
		}
		return ctx, &t.ClientTrace
	}
}

type replacedBody struct {
	io.Reader
	io.Closer
}

func (t *dumpTrace) truncate(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > dumpTraceMaxLength && os.Getenv("HTTP_DUMP_TRACE_FULL") != "true" { //nolint:forbidigo
		return body[:dumpTraceMaxLength] + "\n... (set env HTTP_DUMP_TRACE_FULL=true to see full output)"
	}
	return body
}

// log writes all lines at once, so dumps of concurrent requests are not mixed.
func (t *dumpTrace) log(lines ...string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, line := range lines {
		_, _ = fmt.Fprintln(t.wr, line)
	}
}
