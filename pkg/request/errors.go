package request

import "errors"

var (
	// ErrInvalidConfig is returned if a configuration or an option has an unexpected shape.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidValue is returned if a header, query parameter or body value cannot be used.
	ErrInvalidValue = errors.New("invalid value")
	// ErrDuplicateHeader is returned if one headers map contains the same name twice, case-insensitively.
	ErrDuplicateHeader = errors.New("duplicate header")
	// ErrConflictingBodyOption is returned if more than one body option is defined.
	ErrConflictingBodyOption = errors.New("conflicting body option")
	// ErrMissingTransport is returned if a client cannot resolve a transport.
	ErrMissingTransport = errors.New("missing transport")
)
