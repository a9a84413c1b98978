package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// Call priorities. Low-value polling runs at PriorityLow so that it is
// evicted before configuration and pairing work under backpressure.
const (
	PriorityLow    = 1
	PriorityNormal = 3
	PriorityHigh   = 5
)

// Handler receives the peer's response to a call. It is invoked for every
// response that arrives, whatever its status code.
type Handler func(response *Response)

// Call is one outbound request to the peer.
type Call struct {
	Method string
	URL    string
	Body   []byte
	// Handler is invoked exactly once when a response arrives.
	Handler Handler
	// OnFailure is invoked once if the call is dropped, either after
	// exhausting its retries or by eviction (with ErrEvicted).
	OnFailure func(err error)
	// Priority orders eviction. Zero means PriorityLow.
	Priority int
	// Retries counts how many times the call has been re-queued.
	Retries int
}

// Get creates a GET call.
func Get(url string, handler Handler) *Call {
	return &Call{Method: http.MethodGet, URL: url, Handler: handler}
}

// Post creates a POST call with a JSON body.
func Post(url string, body []byte, handler Handler) *Call {
	return &Call{Method: http.MethodPost, URL: url, Body: body, Handler: handler}
}

// Put creates a PUT call with a JSON body.
func Put(url string, body []byte, handler Handler) *Call {
	return &Call{Method: http.MethodPut, URL: url, Body: body, Handler: handler}
}

// Patch creates a PATCH call with a JSON body.
func Patch(url string, body []byte, handler Handler) *Call {
	return &Call{Method: http.MethodPatch, URL: url, Body: body, Handler: handler}
}

// Delete creates a DELETE call.
func Delete(url string, handler Handler) *Call {
	return &Call{Method: http.MethodDelete, URL: url, Handler: handler}
}

// WithPriority sets the call priority and returns the call.
func (c *Call) WithPriority(priority int) *Call {
	c.Priority = priority
	return c
}

// WithFailure sets the failure hook and returns the call.
func (c *Call) WithFailure(onFailure func(err error)) *Call {
	c.OnFailure = onFailure
	return c
}

func (c *Call) retry() *Call {
	next := *c
	next.Retries++
	return &next
}

// Response is a completed HTTP exchange with the peer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.Wrap(err, "unable to decode response body")
	}
	return nil
}

// Result is the outcome of an issued call, handed back to the goroutine that
// owns the scheduler timeline.
type Result struct {
	Call     *Call
	Response *Response
	Err      error
}
