// Package request describes requests issued against a service endpoint.
//
// A Descriptor is an immutable description of one request: method, path with query string,
// lowercase headers, an optional body and a credential. It is produced by the Build function
// from endpoint Defaults and per-call Options.
//
// Merging rules:
//   - Query: an override parameter replaces all default parameters with the same name.
//   - Headers: defaults only fill the gaps, an override header always wins.
//
// Only one of the stream, chunk, JSON and form bodies can be defined.
package request
