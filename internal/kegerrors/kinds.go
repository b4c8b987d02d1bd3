// Package kegerrors gives the repository engine's failure modes their own
// types instead of leaving every fallible call to return a bare error
// string, so a caller that needs to tell a dead CDN from a corrupt file
// can do it with a type switch instead of parsing a message.
package kegerrors

import "fmt"

// IntegrityError is raised by every verifier in the store and the codecs
// when a computed digest does not match what was expected. It is fatal
// by default; the fsck --delete path is the only caller that recovers
// from it by unlinking the offending object.
type IntegrityError struct {
	Expected string
	Actual   string
	What     string // e.g. "object", "blte header", "archive index footer"
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.What, e.Expected, e.Actual)
}

// NetworkError wraps a transport failure from the remote store or the
// remote client. Per item it is reported and the next item proceeds;
// for a version's metadata phase it is fatal to that version.
type NetworkError struct {
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// NoDataError is returned by the remote client when an optional endpoint
// (bgdl, blobs) has no data for a remote. Callers ignore it silently.
type NoDataError struct {
	Endpoint string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data available for endpoint %q", e.Endpoint)
}

// NotFound is raised by the build manager and the encoding codec when a
// key has no known location. It is surfaced with filename context during
// install.
type NotFound struct {
	Kind string // "ckey", "ekey", "config", "build", ...
	Key  string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// MissingKey is raised by the BLTE decoder when an encrypted chunk names
// a decryption key that was not provisioned. Per-file this is a warning;
// the file is skipped and the build continues.
type MissingKey struct {
	Name string
}

func (e *MissingKey) Error() string {
	return fmt.Sprintf("missing decryption key %q", e.Name)
}

// ConfigError is raised by the config loader. It is fatal at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for key %q: %s", e.Key, e.Reason)
}

// ParseError is raised by any binary or text codec. It is fatal for the
// containing operation.
type ParseError struct {
	Format string // "blte", "psv", "archive-index", ...
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse error at offset %d: %s", e.Format, e.Offset, e.Reason)
}

// Recoverable reports whether err leaves the rest of a multi-remote or
// multi-item run intact. A NetworkError against one remote or a
// NoDataError from one optional endpoint shouldn't cancel every other
// remote fetch-all is walking; the other kinds mean the object graph
// itself can't be trusted and the containing operation should stop.
func Recoverable(err error) bool {
	switch err.(type) {
	case *NetworkError, *NoDataError:
		return true
	default:
		return false
	}
}
