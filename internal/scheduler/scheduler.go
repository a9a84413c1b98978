// Package scheduler serializes management calls against a single peer
// endpoint. It keeps a bounded queue, issues at most one call at a time on a
// fixed tick, times calls out, retries transport failures, and evicts the
// lowest-priority work when the queue is full.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/logging"
)

const (
	// DefaultCapacity is the default queue limit.
	DefaultCapacity = 20
	// DefaultMaxRetries is the default number of retries per call.
	DefaultMaxRetries = 1
	// DefaultTimeout bounds each individual call.
	DefaultTimeout = time.Second
	// DefaultTickInterval is the queue processing period.
	DefaultTickInterval = 200 * time.Millisecond

	// APIKeyHeader carries the peer's API key.
	APIKeyHeader = "X-API-Key"

	maximumBodySize = 32 << 20
)

// ErrEvicted is passed to a call's failure hook when the call is dropped from
// a full queue without being issued.
var ErrEvicted = errors.New("request evicted from queue")

// Options configures a Scheduler.
type Options struct {
	// BaseURL is the peer's management address, e.g. "http://127.0.0.1:8384".
	// A bare host:port is accepted.
	BaseURL  string
	APIKey   string
	Capacity int
	// MaxRetries bounds re-queues after transport failures. Zero disables
	// retries.
	MaxRetries   int
	Timeout      time.Duration
	TickInterval time.Duration
	// Client overrides the HTTP client used to issue calls.
	Client *http.Client
}

// Scheduler owns the outbound call queue for one peer.
type Scheduler struct {
	base   *url.URL
	apiKey string
	client *http.Client
	tick   time.Duration

	mu         sync.Mutex
	queue      []*Call
	inFlight   bool
	capacity   int
	maxRetries int
	timeout    time.Duration

	results chan *Result

	bus    events.Publisher
	logger *logging.Logger
}

// ParseBaseURL normalizes a peer management address.
func ParseBaseURL(address string) (*url.URL, error) {
	if address == "" {
		return nil, errors.New("empty peer address")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	base, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse peer address")
	}
	if base.Host == "" {
		return nil, errors.Errorf("peer address %q has no host", address)
	}
	return base, nil
}

// New creates a scheduler. Observations are published to bus, which may be
// nil.
func New(options Options, bus events.Publisher, logger *logging.Logger) (*Scheduler, error) {
	base, err := ParseBaseURL(options.BaseURL)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		base:       base,
		apiKey:     options.APIKey,
		client:     options.Client,
		tick:       options.TickInterval,
		capacity:   options.Capacity,
		maxRetries: options.MaxRetries,
		timeout:    options.Timeout,
		results:    make(chan *Result, 1),
		bus:        bus,
		logger:     logger,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}
	if s.tick <= 0 {
		s.tick = DefaultTickInterval
	}
	if s.capacity <= 0 {
		s.capacity = DefaultCapacity
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	return s, nil
}

// URL resolves a peer path and optional query against the base address.
func (s *Scheduler) URL(path string, query url.Values) string {
	target := *s.base
	target.Path = strings.TrimSuffix(s.base.Path, "/") + path
	target.RawQuery = ""
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

// TickInterval returns the queue processing period.
func (s *Scheduler) TickInterval() time.Duration {
	return s.tick
}

func (s *Scheduler) publish(batch []events.Event) {
	if s.bus == nil {
		return
	}
	for _, event := range batch {
		s.bus.Publish(event)
	}
}

// evictLocked removes the lowest-priority entry, preferring the first one
// found on ties. The caller must hold the lock.
func (s *Scheduler) evictLocked() (*Call, events.Event, bool) {
	if len(s.queue) == 0 {
		return nil, events.Event{}, false
	}
	index := 0
	for i, call := range s.queue {
		if call.Priority < s.queue[index].Priority {
			index = i
		}
	}
	removed := s.queue[index]
	s.queue = append(s.queue[:index], s.queue[index+1:]...)
	s.logger.Warnf("evicted %s %s with priority %d", removed.Method, removed.URL, removed.Priority)
	return removed, events.Event{
		Kind:     events.CallEvicted,
		URL:      removed.URL,
		Priority: removed.Priority,
		Depth:    len(s.queue),
		Message:  fmt.Sprintf("removed request %s due to queue limit", removed.URL),
	}, true
}

// Submit enqueues a call. It never blocks on the network; completion
// surfaces through the call's handler or failure hook.
func (s *Scheduler) Submit(call *Call) {
	if call == nil {
		return
	}
	if call.Priority == 0 {
		call.Priority = PriorityLow
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}

	var batch []events.Event
	var dropped []*Call
	s.mu.Lock()
	if len(s.queue) >= s.capacity {
		if removed, evicted, ok := s.evictLocked(); ok {
			batch = append(batch, evicted)
			dropped = append(dropped, removed)
		}
	}
	s.queue = append(s.queue, call)
	depth := len(s.queue)
	s.mu.Unlock()

	s.logger.Tracef("enqueued %s %s, depth %d", call.Method, call.URL, depth)
	batch = append(batch, events.Event{Kind: events.QueueDepthChanged, Depth: depth})
	s.publish(batch)
	notifyDropped(dropped)
}

func notifyDropped(dropped []*Call) {
	for _, call := range dropped {
		if call.OnFailure != nil {
			call.OnFailure(ErrEvicted)
		}
	}
}

// Depth returns the number of queued calls, excluding the one in flight.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight reports whether a call is currently outstanding.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// SetCapacity changes the queue limit, evicting lowest-priority calls until
// the queue fits.
func (s *Scheduler) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	var batch []events.Event
	var dropped []*Call
	s.mu.Lock()
	s.capacity = capacity
	for len(s.queue) > s.capacity {
		removed, evicted, ok := s.evictLocked()
		if !ok {
			break
		}
		dropped = append(dropped, removed)
		batch = append(batch, evicted, events.Event{Kind: events.QueueDepthChanged, Depth: len(s.queue)})
	}
	s.mu.Unlock()

	s.publish(batch)
	notifyDropped(dropped)
}

// SetMaxRetries changes the retry bound for subsequent failures.
func (s *Scheduler) SetMaxRetries(maxRetries int) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	s.mu.Lock()
	s.maxRetries = maxRetries
	s.mu.Unlock()
}

// SetTimeout changes the per-call timeout for subsequently issued calls.
func (s *Scheduler) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s.mu.Lock()
	s.timeout = timeout
	s.mu.Unlock()
}

// Results returns the channel on which issued calls report back. The owner
// of the timeline must pass each result to Complete.
func (s *Scheduler) Results() <-chan *Result {
	return s.results
}

// Tick issues the head of the queue if nothing is in flight. It reports
// whether a call was issued.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	if s.inFlight || len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	call := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.inFlight = true
	depth := len(s.queue)
	timeout := s.timeout
	s.mu.Unlock()

	s.publish([]events.Event{{Kind: events.QueueDepthChanged, Depth: depth}})
	s.logger.Debugf("issuing %s %s (attempt %d)", call.Method, call.URL, call.Retries+1)

	go func() {
		response, err := s.execute(call, timeout)
		s.results <- &Result{Call: call, Response: response, Err: err}
	}()
	return true
}

func (s *Scheduler) execute(call *Call, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var body io.Reader
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}
	request, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create request")
	}
	if s.apiKey != "" {
		request.Header.Set(APIKeyHeader, s.apiKey)
	}
	if call.Body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := s.client.Do(request)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Errorf("request timed out after %s", timeout)
		}
		return nil, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maximumBodySize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Errorf("request timed out after %s", timeout)
		}
		return nil, errors.Wrap(err, "unable to read response body")
	}

	return &Response{
		StatusCode: response.StatusCode,
		Header:     response.Header,
		Body:       data,
	}, nil
}

// Complete finishes an issued call: the in-flight slot is released, then the
// handler runs on success or the retry path runs on transport failure.
func (s *Scheduler) Complete(result *Result) {
	if result == nil {
		return
	}

	s.mu.Lock()
	s.inFlight = false
	maxRetries := s.maxRetries
	s.mu.Unlock()

	call := result.Call
	if result.Err == nil {
		s.logger.Tracef("%s %s -> %d", call.Method, call.URL, result.Response.StatusCode)
		if call.Handler != nil {
			call.Handler(result.Response)
		}
		return
	}

	s.logger.Warnf("request to %s failed: %v", call.URL, result.Err)
	batch := []events.Event{{
		Kind:    events.GlobalError,
		URL:     call.URL,
		Message: fmt.Sprintf("request to %s failed: %v", call.URL, result.Err),
	}}

	if call.Retries < maxRetries {
		s.publish(batch)
		retry := call.retry()
		s.logger.Debugf("retrying %s (attempt %d)", call.URL, retry.Retries+1)
		s.Submit(retry)
		return
	}

	s.logger.Errorf("max retries reached for %s", call.URL)
	batch = append(batch, events.Event{
		Kind:     events.CallExhausted,
		URL:      call.URL,
		Priority: call.Priority,
		Message:  fmt.Sprintf("max retries reached for request to %s: %v", call.URL, result.Err),
	})
	s.publish(batch)
	if call.OnFailure != nil {
		call.OnFailure(result.Err)
	}
}
