// Package peertest provides an in-process fake of the sync peer's management
// API and helpers to drive a scheduler deterministically from a test.
package peertest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// APIKey is the key the fake peer expects.
const APIKey = "test-key"

// Request is a recorded call to the fake peer.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
	APIKey string
}

// Peer is a fake sync peer. Responses are configured per path; a POST to the
// configuration endpoint replaces the stored configuration.
type Peer struct {
	Server *httptest.Server

	mu        sync.Mutex
	responses map[string]string
	statuses  map[string]int
	requests  []Request
	hold      time.Duration
}

// DefaultConfig is the configuration the fake peer starts with.
const DefaultConfig = `{"version":37,"devices":[{"deviceID":"LOCAL","name":"local","addresses":["dynamic"]}],` +
	`"folders":[],"options":{"globalAnnounceEnabled":true,"localAnnounceEnabled":true,"natEnabled":true,` +
	`"relaysEnabled":true,"listenAddresses":["default"],"urAccepted":-1},"gui":{"address":"127.0.0.1:8384"}}`

// New starts a fake peer that is shut down with the test.
func New(t testing.TB) *Peer {
	p := &Peer{
		responses: map[string]string{
			api.PathPing:           `{"ping":"pong"}`,
			api.PathHealth:         `{"status":"OK"}`,
			api.PathStatus:         `{"myID":"LOCAL","uptime":42,"discoveryErrors":{}}`,
			api.PathConfig:         DefaultConfig,
			api.PathConnections:    `{"connections":{}}`,
			api.PathDiscovery:      `{}`,
			api.PathEvents:         `[]`,
			api.PathLog:            `{"messages":[{"when":"2024-03-01T10:00:00Z","message":"started"}]}`,
			api.PathPendingDevices: `{}`,
			api.PathPendingFolders: `{}`,
			api.PathConfigDevices:  `[]`,
			api.PathConfigFolders:  `[]`,
		},
		statuses: make(map[string]int),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Server.Close)
	return p
}

func (p *Peer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	p.mu.Lock()
	p.requests = append(p.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
		APIKey: r.Header.Get(scheduler.APIKeyHeader),
	})
	status, overridden := p.statuses[r.URL.Path]
	if !overridden {
		status = http.StatusOK
	}
	if r.Method == http.MethodPost && r.URL.Path == api.PathConfig && status == http.StatusOK {
		p.responses[api.PathConfig] = string(body)
	}
	response := "{}"
	if r.Method == http.MethodGet {
		if configured, ok := p.responses[r.URL.Path]; ok {
			response = configured
		}
	}
	hold := p.holdFor(r)
	p.mu.Unlock()

	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, response)
}

// holdFor returns how long an events request waits before it is answered.
// Like the real peer, a request without a timeout parameter is held for the
// whole long-poll period; the parameter caps the wait in seconds.
func (p *Peer) holdFor(r *http.Request) time.Duration {
	if r.Method != http.MethodGet || r.URL.Path != api.PathEvents || p.hold <= 0 {
		return 0
	}
	timeout := r.URL.Query().Get("timeout")
	if timeout == "" {
		return p.hold
	}
	seconds, err := strconv.Atoi(timeout)
	if err != nil {
		return p.hold
	}
	if limit := time.Duration(seconds) * time.Second; limit < p.hold {
		return limit
	}
	return p.hold
}

// HoldEvents makes the peer long-poll events requests for up to d.
func (p *Peer) HoldEvents(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = d
}

// URL returns the peer's base address.
func (p *Peer) URL() string {
	return p.Server.URL
}

// Set configures the body returned for GET requests to path.
func (p *Peer) Set(path, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[path] = body
}

// Get returns the body currently served for path.
func (p *Peer) Get(path string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responses[path]
}

// Fail makes every request to path answer with status.
func (p *Peer) Fail(path string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[path] = status
}

// Recover undoes Fail.
func (p *Peer) Recover(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.statuses, path)
}

// Requests returns the recorded requests matching method and path. An empty
// method or path matches anything.
func (p *Peer) Requests(method, path string) []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matching []Request
	for _, request := range p.requests {
		if method != "" && request.Method != method {
			continue
		}
		if path != "" && request.Path != path && !strings.HasPrefix(request.Path, path+"/") {
			continue
		}
		matching = append(matching, request)
	}
	return matching
}

// Reset forgets the recorded requests.
func (p *Peer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = nil
}

// Scheduler creates a scheduler aimed at the peer with a single retry.
// Observations go to bus, which may be nil.
func (p *Peer) Scheduler(t testing.TB, bus events.Publisher) *scheduler.Scheduler {
	s, err := scheduler.New(scheduler.Options{
		BaseURL:    p.URL(),
		APIKey:     APIKey,
		Capacity:   64,
		MaxRetries: 1,
		Timeout:    2 * time.Second,
	}, bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// Settle issues queued calls one at a time and completes each on the calling
// goroutine, including calls submitted by result handlers, until the
// scheduler is idle.
func Settle(t testing.TB, s *scheduler.Scheduler) {
	t.Helper()
	for s.Tick() {
		select {
		case result := <-s.Results():
			s.Complete(result)
		case <-time.After(5 * time.Second):
			t.Fatal("call did not complete")
		}
	}
}
