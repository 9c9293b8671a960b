package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConfig matches every *ConfigError.
var ErrConfig = errors.New("invalid transport configuration")

// ConfigError reports an invalid connection setup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "transport config: " + e.Reason
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// ClusterUnavailableError is returned by Open when node discovery finds no
// member with a published HTTP address.
type ClusterUnavailableError struct {
	Seed string
}

func (e *ClusterUnavailableError) Error() string {
	return fmt.Sprintf("cluster autodetection via %s did not find any active nodes", e.Seed)
}

// TransportError wraps a network-level failure reaching a node.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnsupportedResponseError is returned for a successful response whose
// content type is neither JSON nor plain text.
type UnsupportedResponseError struct {
	Method      string
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *UnsupportedResponseError) Error() string {
	return fmt.Sprintf("%s %s: unsupported response content type %q", e.Method, e.URL, e.ContentType)
}

// IncompleteResponseError is returned when fewer bytes arrive than the
// response declared in Content-Length.
type IncompleteResponseError struct {
	Method   string
	URL      string
	Received int
	Expected int64
}

func (e *IncompleteResponseError) Error() string {
	return fmt.Sprintf("%s %s: incomplete response, received %d of %d bytes", e.Method, e.URL, e.Received, e.Expected)
}

// MalformedResponseError is returned when a JSON response does not parse.
type MalformedResponseError struct {
	Method string
	URL    string
	Body   []byte
	Err    error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s %s: malformed json response: %v", e.Method, e.URL, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RequestFailedError represents any response that is neither 2xx nor 404.
// It keeps the full exchange so callers can log it without re-issuing the
// request.
type RequestFailedError struct {
	Method      string
	URL         string
	RequestBody string
	StatusCode  int
	Header      http.Header
	Body        []byte
	// Decoded is the JSON-decoded body, or nil when the body is not JSON.
	Decoded any
}

func (e *RequestFailedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Reason extracts the engine's error reason from the decoded body, if any.
func (e *RequestFailedError) Reason() string {
	m, ok := e.Decoded.(map[string]any)
	if !ok {
		return ""
	}
	switch v := m["error"].(type) {
	case string:
		return v
	case map[string]any:
		if reason, ok := v["reason"].(string); ok {
			return reason
		}
		if typ, ok := v["type"].(string); ok {
			return typ
		}
	}
	return ""
}

// IsStatus reports whether err is a RequestFailedError with the given status.
func IsStatus(err error, status int) bool {
	var rf *RequestFailedError
	return errors.As(err, &rf) && rf.StatusCode == status
}
