package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is a 2xx or 404 response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Found is false for a 404, which callers treat as "absent" rather than
// as a failure.
func (r *Response) Found() bool {
	return r != nil && r.StatusCode != http.StatusNotFound
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("decoding response: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Map decodes the body as a generic JSON object.
func (r *Response) Map() (map[string]any, error) {
	var m map[string]any
	if err := r.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
