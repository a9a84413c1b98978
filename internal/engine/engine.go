// Package engine implements the orchestration loop that drives a sync peer
// through its management API: liveness and health probes, incremental event
// polling, device pairing and folder sharing.
//
// All orchestration state is owned by the goroutine executing Run. Call
// results are completed on that goroutine, so result handlers, periodic
// activities and commands delivered through Post never run concurrently.
// Exported operations must only be invoked from that goroutine, either from
// a Strategy hook or from a function passed to Post.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/logging"
	"github.com/Fybrk/syncpair/internal/scheduler"
	"github.com/Fybrk/syncpair/pkg/types"
)

const (
	// DefaultInterval paces each periodic activity unless configured.
	DefaultInterval = 10 * time.Second
	// DefaultUpdatePath is where the update folder lives.
	DefaultUpdatePath = "/work/update"

	commandBuffer = 64
)

// Activity enables and paces one periodic activity.
type Activity struct {
	Enabled  bool
	Interval time.Duration
}

// Options configures an Engine.
type Options struct {
	Liveness Activity
	Health   Activity
	// Events paces both event polling and the strategy's pairing poll.
	Events Activity

	// PeerAddress is the authority's sync address, used for connection
	// bootstrap.
	PeerAddress string
	// DeviceName is the local display name.
	DeviceName string
	// ListenAddress overrides the local-only listen address.
	ListenAddress string
	// UpdatePath is the local path of the update folder.
	UpdatePath string
}

// CursorStore persists the event cursor.
type CursorStore interface {
	LastEvent() uint64
	SetLastEvent(id uint64) error
}

// Strategy is the role-specific behavior layered on top of the engine's
// primitives. It is chosen once at construction.
type Strategy interface {
	// Name identifies the role in logs.
	Name() string
	// Start runs the role's one-time startup work.
	Start(e *Engine)
	// Poll runs on every events tick after the event poll.
	Poll(e *Engine)
	// DevicePairingRequested is invoked for each newly seen pending device.
	DevicePairingRequested(e *Engine, device types.Device)
	// FolderSharingRequested is invoked for the selected pending folder offer.
	FolderSharingRequested(e *Engine, folder types.Folder)
	// TracksCompletion reports whether folder completion events produce
	// update-done notifications.
	TracksCompletion() bool
}

type progressKey struct {
	device string
	folder string
}

// Engine is the orchestration loop for one peer.
type Engine struct {
	scheduler *scheduler.Scheduler
	strategy  Strategy
	cursor    CursorStore
	sinks     []Sink
	bus       events.Publisher
	logger    *logging.Logger
	options   Options

	commands chan func()
	done     chan struct{}

	lastEvent      uint64
	localID        string
	devices        map[string]types.PairingState
	folders        map[string]types.FolderState
	offers         types.FolderSet
	progress       map[progressKey]float64
	acceptedFolder string
	peerConnected  bool
	peerKnown      bool
	bootstrapping  bool

	mutations []*mutation
	mutating  bool
}

// New creates an engine. The cursor store may be nil, in which case the
// cursor starts at zero and is kept in memory only.
func New(
	options Options,
	s *scheduler.Scheduler,
	strategy Strategy,
	cursor CursorStore,
	bus events.Publisher,
	logger *logging.Logger,
	sinks ...Sink,
) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine requires a scheduler")
	}
	if strategy == nil {
		return nil, errors.New("engine requires a role strategy")
	}

	for _, activity := range []*Activity{&options.Liveness, &options.Health, &options.Events} {
		if activity.Interval <= 0 {
			activity.Interval = DefaultInterval
		}
	}
	if options.UpdatePath == "" {
		options.UpdatePath = DefaultUpdatePath
	}

	e := &Engine{
		scheduler: s,
		strategy:  strategy,
		cursor:    cursor,
		sinks:     sinks,
		bus:       bus,
		logger:    logger,
		options:   options,
		commands:  make(chan func(), commandBuffer),
		done:      make(chan struct{}),
		devices:   make(map[string]types.PairingState),
		folders:   make(map[string]types.FolderState),
		offers:    make(types.FolderSet),
		progress:  make(map[progressKey]float64),
	}
	if cursor != nil {
		e.lastEvent = cursor.LastEvent()
	}
	return e, nil
}

// Options returns the engine configuration.
func (e *Engine) Options() Options {
	return e.options
}

// Role returns the strategy name.
func (e *Engine) Role() string {
	return e.strategy.Name()
}

// Post schedules fn to run on the engine's goroutine. It reports false if
// the engine has stopped.
func (e *Engine) Post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.commands <- fn:
		return true
	case <-e.done:
		return false
	}
}

func ticker(activity Activity) (<-chan time.Time, func()) {
	if !activity.Enabled {
		return nil, func() {}
	}
	t := time.NewTicker(activity.Interval)
	return t.C, t.Stop
}

// Run executes the loop until ctx is cancelled. Calls still in flight when
// it returns finish or time out on their own.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	e.logger.Infof("starting %s role", e.strategy.Name())
	e.strategy.Start(e)

	liveness, stopLiveness := ticker(e.options.Liveness)
	defer stopLiveness()
	health, stopHealth := ticker(e.options.Health)
	defer stopHealth()
	polling, stopPolling := ticker(e.options.Events)
	defer stopPolling()
	tick := time.NewTicker(e.scheduler.TickInterval())
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stopping")
			return ctx.Err()
		case <-liveness:
			e.CheckLiveness()
		case <-health:
			e.CheckHealth()
		case <-polling:
			e.PollEvents()
			e.strategy.Poll(e)
		case <-tick.C:
			e.scheduler.Tick()
		case result := <-e.scheduler.Results():
			e.scheduler.Complete(result)
		case command := <-e.commands:
			command()
		}
	}
}

// Settle issues queued calls and completes them on the calling goroutine
// until the scheduler is idle, including calls submitted by result handlers.
// It serves hosts that run one-shot operations without Run and must not be
// used while Run is executing.
func (e *Engine) Settle(ctx context.Context) error {
	tick := time.NewTicker(e.scheduler.TickInterval())
	defer tick.Stop()

	e.scheduler.Tick()
	for e.scheduler.Depth() > 0 || e.scheduler.InFlight() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			e.scheduler.Tick()
		case result := <-e.scheduler.Results():
			e.scheduler.Complete(result)
			e.scheduler.Tick()
		}
	}
	return nil
}

func (e *Engine) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func (e *Engine) globalError(url, message string) {
	e.logger.Warnf("%s", message)
	e.publish(events.Event{Kind: events.GlobalError, URL: url, Message: message})
}

// submit enqueues a call on the scheduler.
func (e *Engine) submit(call *scheduler.Call) {
	e.scheduler.Submit(call)
}

// url resolves a peer path.
func (e *Engine) url(path string) string {
	return e.scheduler.URL(path, nil)
}

// LocalDeviceID returns the local device id, or the empty string if it has
// not been resolved yet.
func (e *Engine) LocalDeviceID() string {
	return e.localID
}

// Cursor returns the last processed event id.
func (e *Engine) Cursor() uint64 {
	return e.lastEvent
}

// PairingState returns the pairing progress of a device.
func (e *Engine) PairingState(id string) types.PairingState {
	return e.devices[id]
}

// FolderState returns the acceptance progress of a folder.
func (e *Engine) FolderState(id string) types.FolderState {
	return e.folders[id]
}

// AcceptedFolder returns the id of the accepted update folder, if any.
func (e *Engine) AcceptedFolder() string {
	return e.acceptedFolder
}

// PeerConnected reports the last observed connection state to the peer.
func (e *Engine) PeerConnected() bool {
	return e.peerConnected
}

// advanceDevice moves a device's pairing state forward. Earlier states are
// ignored.
func (e *Engine) advanceDevice(id string, state types.PairingState) {
	if current := e.devices[id]; state > current {
		e.logger.Debugf("device %s: %s -> %s", id, current, state)
		e.devices[id] = state
	}
}

// resetDevice returns a device to Unknown so that the next poll retries it.
func (e *Engine) resetDevice(id string) {
	e.logger.Debugf("device %s: %s -> %s", id, e.devices[id], types.PairingUnknown)
	delete(e.devices, id)
}

func (e *Engine) advanceFolder(id string, state types.FolderState) {
	if current := e.folders[id]; state > current {
		e.logger.Debugf("folder %s: %s -> %s", id, current, state)
		e.folders[id] = state
	}
}
