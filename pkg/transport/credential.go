package transport

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/keboola/go-svc/pkg/request"
)

// Credential authenticates the request, for example by setting the Authorization header.
type Credential interface {
	Apply(req *http.Request) error
}

// BasicAuth is a username and password Credential.
type BasicAuth struct {
	Username string
	Password string
}

func (v BasicAuth) Apply(req *http.Request) error {
	req.SetBasicAuth(v.Username, v.Password)
	return nil
}

// applyCredential authenticates the request, if no Authorization header is set.
//
// Supported credentials:
//   - string in the "username:password" format, empty string means no credential.
//   - Credential implementation.
//   - oauth2.TokenSource, the token is set as Authorization header.
func applyCredential(req *http.Request, credential any) error {
	if credential == nil || req.Header.Get("Authorization") != "" {
		return nil
	}

	switch v := credential.(type) {
	case string:
		if v == "" {
			return nil
		}
		username, password, _ := strings.Cut(v, ":")
		req.SetBasicAuth(username, password)
		return nil
	case Credential:
		return v.Apply(req)
	case oauth2.TokenSource:
		token, err := v.Token()
		if err != nil {
			return fmt.Errorf("cannot get oauth2 token: %w", err)
		}
		token.SetAuthHeader(req)
		return nil
	default:
		return fmt.Errorf("%w: unexpected credential type %T", request.ErrInvalidValue, credential)
	}
}
