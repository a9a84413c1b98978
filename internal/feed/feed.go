// Package feed streams observations to local clients over a WebSocket so
// that a status display can follow the node without polling it.
package feed

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/logging"
)

const (
	// Path is the endpoint clients connect to.
	Path = "/events"

	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
	shutdownTimeout  = 2 * time.Second
)

// Source is where the feed takes its observations from.
type Source interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

// Server streams every observation published on its source as a JSON text
// message. Clients that fall behind miss observations rather than slowing
// the node down.
type Server struct {
	source   Source
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewServer creates a feed handler.
func NewServer(source Source, logger *logging.Logger) *Server {
	return &Server{
		source: source,
		upgrader: websocket.Upgrader{
			// Only loopback listeners are expected; any origin may read.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and streams until the client leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugf("feed upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	observed, cancel := s.source.Subscribe(subscriberBuffer)
	defer cancel()
	s.logger.Debugf("feed client %s connected", r.RemoteAddr)

	// The reader only notices when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			s.logger.Debugf("feed client %s disconnected", r.RemoteAddr)
			return
		case <-r.Context().Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			return
		case event, ok := <-observed:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debugf("feed write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

// Listen binds address and serves the feed until ctx is cancelled. The bound
// address is sent on ready, which may be nil.
func Listen(ctx context.Context, address string, handler http.Handler, ready chan<- string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "unable to listen for feed clients")
	}

	mux := http.NewServeMux()
	mux.Handle(Path, handler)
	// Streams are hijacked connections that Shutdown does not track, so
	// their request contexts end with ctx instead.
	server := &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if ready != nil {
		ready <- listener.Addr().String()
	}

	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		server.Close()
		return nil
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "feed server failed")
	}
}

// Follow connects to a feed at address and passes each observation to
// handle until ctx is cancelled or the server goes away.
func Follow(ctx context.Context, address string, handle func(events.Event)) error {
	target := "ws://" + address + Path
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return errors.Wrapf(err, "unable to connect to %s", target)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var event events.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "feed interrupted")
		}
		handle(event)
	}
}
