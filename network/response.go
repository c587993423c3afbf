package network

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// ErrUnparseableBody is wrapped by Response.Decode when the body is not valid JSON
// for the requested type.
var ErrUnparseableBody = errors.New("unparseable response body")

// Response is a fully read server response.
type Response struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %s", ErrUnparseableBody, err)
	}
	return nil
}

// StatusClass returns the hundreds digit of the status code (2 for 2xx, 4 for 4xx, ...).
func (r *Response) StatusClass() int {
	return r.StatusCode / 100
}

// Message returns the human readable `message` of an error body, falling back to `error` and
// then to `detail`. ok is false if the body is not JSON or carries none of them.
func (r *Response) Message() (string, bool) {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := r.Decode(&body); err != nil {
		return "", false
	}
	if body.Message != "" {
		return body.Message, true
	}
	if body.Error != "" {
		return body.Error, true
	}
	if body.Detail != "" {
		return body.Detail, true
	}
	return "", false
}

// Content returns the body for diagnostics: compacted JSON when it parses, raw text otherwise.
func (r *Response) Content() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, r.Body); err == nil {
		return buf.String()
	}
	return string(r.Body)
}

// TransportError is a request-level failure: the connection dropped, timed out, or the
// body could not be read.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnhandledResponseError captures a response matching none of the expected outcomes.
type UnhandledResponseError struct {
	URL        string
	StatusCode int
	Content    string
}

// NewUnhandledResponseError builds an UnhandledResponseError from a response.
func NewUnhandledResponseError(resp *Response) *UnhandledResponseError {
	return &UnhandledResponseError{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Content:    resp.Content(),
	}
}

func (e *UnhandledResponseError) Error() string {
	return fmt.Sprintf(`shippy crashed for an unknown reason. :(
To figure out what went wrong, please pass along the full output.
----
URL of request: %s
Request response code: %d
Request response: %s
---`, e.URL, e.StatusCode, e.Content)
}

// ID is a server-assigned identifier. Servers send either JSON strings or numbers.
type ID string

// UnmarshalJSON ...
func (id *ID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*id = ID(n.String())
	return nil
}

// String ...
func (id ID) String() string {
	return string(id)
}
