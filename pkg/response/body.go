package response

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/umisama/go-regexpcache"
)

const (
	ContentTypeApplicationJSON       = "application/json"
	ContentTypeApplicationJSONRegexp = `^application/([a-zA-Z0-9\.\-]+\+)?json$`
)

// json - replacement of the standard encoding/json library, it is faster for larger responses.
var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// IsJSONContentType returns true for "application/json" and "application/*+json" media types, parameters are ignored.
func IsJSONContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return regexpcache.MustCompile(ContentTypeApplicationJSONRegexp).MatchString(mediaType)
}

// Bytes waits for the response and reads the whole body.
func (r *Response) Bytes(ctx context.Context) ([]byte, error) {
	res, err := r.Await(ctx)
	if err != nil {
		return nil, err
	}
	return r.readBody(res)
}

// Text waits for the response and reads the whole body as a string.
func (r *Response) Text(ctx context.Context) (string, error) {
	body, err := r.Bytes(ctx)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// DecodeJSON waits for the response and decodes the JSON body to the target.
// The response must have a JSON content type.
func (r *Response) DecodeJSON(ctx context.Context, target any) error {
	res, err := r.Await(ctx)
	if err != nil {
		return err
	}

	if contentType := res.Header.Get("Content-Type"); !IsJSONContentType(contentType) {
		_ = r.Stream().Close()
		return fmt.Errorf(`cannot decode JSON body: unexpected content type "%s"`, contentType)
	}

	body, err := r.readBody(res)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf(`cannot decode JSON body: %w`, err)
	}
	return nil
}

func (r *Response) readBody(res *http.Response) ([]byte, error) {
	stream := r.Stream()
	defer stream.Close()

	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf(`cannot read response body: %w`, err)
	}
	return body, nil
}
