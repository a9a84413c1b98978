// Package core assembles a syncpair node: configuration, logging, the call
// scheduler, the orchestration engine with its role strategy, diagnostics
// storage and the optional network helpers around them.
package core

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/config"
	"github.com/Fybrk/syncpair/internal/discovery"
	"github.com/Fybrk/syncpair/internal/engine"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/feed"
	"github.com/Fybrk/syncpair/internal/logging"
	"github.com/Fybrk/syncpair/internal/pairing"
	"github.com/Fybrk/syncpair/internal/scheduler"
	"github.com/Fybrk/syncpair/internal/storage"
	"github.com/Fybrk/syncpair/internal/watcher"
)

const observerBuffer = 64

// Options controls how a node is assembled.
type Options struct {
	// ConfigPath locates the service configuration. Empty means the default
	// location.
	ConfigPath string
	// LogOutput receives log lines. Nil means standard error.
	LogOutput io.Writer
	// LogLevel overrides the configured level when set.
	LogLevel string
	// Watch follows edits to the configuration file while running.
	Watch bool
	// Feed overrides the configured observation feed address when set.
	Feed string
}

// Node is one managed peer and everything that drives it.
type Node struct {
	config    *config.Config
	peer      *config.Peer
	logger    *logging.Logger
	bus       *events.Bus
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	files     *storage.FileSink
	snapshots *storage.SnapshotStore
	options   Options

	advertiseFn func(discovery.Config) (*discovery.Advertiser, error)
}

// New loads the configuration and assembles a node. Nothing talks to the
// peer until Run or Execute is called.
func New(options Options) (*Node, error) {
	var cfg *config.Config
	var err error
	if options.ConfigPath == "" {
		cfg, err = config.LoadConfig()
	} else {
		cfg, err = config.Load(options.ConfigPath)
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to load configuration")
	}

	settings := cfg.Settings()
	levelName := settings.Syncthing.LogLevel
	if options.LogLevel != "" {
		levelName = options.LogLevel
	}
	level, ok := logging.NameToLevel(levelName)
	if !ok {
		return nil, errors.Errorf("invalid log level: %s", levelName)
	}
	output := options.LogOutput
	if output == nil {
		output = os.Stderr
	}
	logger := logging.NewLogger(output, level)

	peer, err := config.LoadPeer(settings.Syncthing.ConfigXML)
	if err != nil {
		return nil, errors.Wrap(err, "unable to locate peer management API")
	}

	bus := events.NewBus()
	s, err := scheduler.New(scheduler.Options{
		BaseURL:      peer.BaseURL(),
		APIKey:       peer.APIKey,
		Capacity:     settings.Scheduler.Capacity,
		MaxRetries:   settings.Scheduler.MaxRetries,
		Timeout:      settings.Scheduler.Timeout,
		TickInterval: settings.Scheduler.Tick,
	}, bus, logger.Sublogger("scheduler"))
	if err != nil {
		return nil, errors.Wrap(err, "unable to create scheduler")
	}

	n := &Node{
		config:    cfg,
		peer:      peer,
		logger:    logger,
		bus:       bus,
		scheduler: s,
		options:   options,

		advertiseFn: discovery.Advertise,
	}

	var sinks []engine.Sink
	if settings.Syncthing.LogDir != "" {
		n.files = storage.NewFileSink(settings.Syncthing.LogDir)
		sinks = append(sinks, n.files)
	}
	if path := cfg.SnapshotsPath(); path != "" {
		n.snapshots, err = storage.NewSnapshotStore(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to open snapshot store")
		}
		sinks = append(sinks, n.snapshots)
	}

	n.engine, err = engine.New(engine.Options{
		Liveness:      engine.Activity{Enabled: settings.Engine.Liveness, Interval: settings.Engine.LivenessInterval},
		Health:        engine.Activity{Enabled: settings.Engine.Health, Interval: settings.Engine.HealthInterval},
		Events:        engine.Activity{Enabled: settings.Engine.Events, Interval: settings.Engine.EventsInterval},
		PeerAddress:   settings.Syncthing.IP,
		DeviceName:    settings.Syncthing.Name,
		ListenAddress: settings.Syncthing.ListenAddress,
		UpdatePath:    settings.Syncthing.UpdatePath,
	},
		s,
		pairing.ForRole(settings.Syncthing.IsServer, logger.Sublogger("pairing")),
		cfg,
		bus,
		logger.Sublogger("engine"),
		sinks...,
	)
	if err != nil {
		n.Close()
		return nil, errors.Wrap(err, "unable to create engine")
	}
	return n, nil
}

// Config returns the service configuration.
func (n *Node) Config() *config.Config {
	return n.config
}

// Peer returns the peer's management endpoint.
func (n *Node) Peer() *config.Peer {
	return n.peer
}

// Logger returns the root logger.
func (n *Node) Logger() *logging.Logger {
	return n.logger
}

// Bus returns the observation bus.
func (n *Node) Bus() *events.Bus {
	return n.bus
}

// Engine returns the orchestration engine.
func (n *Node) Engine() *engine.Engine {
	return n.engine
}

// Files returns the diagnostics file sink, which is nil without a log
// directory.
func (n *Node) Files() *storage.FileSink {
	return n.files
}

// Snapshots returns the snapshot store, which is nil when disabled.
func (n *Node) Snapshots() *storage.SnapshotStore {
	return n.snapshots
}

// Role returns the configured role name.
func (n *Node) Role() string {
	return n.engine.Role()
}

// Run drives the peer until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The watcher reloads the configuration while the node runs.
	settings := n.config.Settings()

	n.logger.Infof("managing peer at %s as %s", n.peer.BaseURL(), n.Role())

	if n.snapshots != nil {
		observed, unsubscribe := n.bus.Subscribe(observerBuffer)
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			storage.RecordStatuses(ctx, observed, n.snapshots, n.logger.Sublogger("storage"))
		}()
	}

	if n.options.Watch {
		cw, err := watcher.NewConfigWatcher(n.config.Path(), n.logger.Sublogger("watcher"))
		if err != nil {
			return errors.Wrap(err, "unable to watch configuration")
		}
		defer cw.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			watcher.Follow(ctx, cw, n.config.DisplayName(), n.reloadName, n.requestRename)
		}()
	}

	if settings.Syncthing.IsServer && settings.Engine.Advertise {
		observed, unsubscribe := n.bus.Subscribe(observerBuffer)
		defer unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.advertise(ctx, observed, settings.Syncthing.ListenAddress)
		}()
	}

	address := settings.Engine.Feed
	if n.options.Feed != "" {
		address = n.options.Feed
	}
	if address != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.logger.Infof("serving observations on ws://%s%s", address, feed.Path)
			if err := feed.Listen(ctx, address, feed.NewServer(n.bus, n.logger.Sublogger("feed")), nil); err != nil {
				n.logger.Warn(err)
			}
		}()
	}

	err := n.engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) reloadName() (string, error) {
	if err := n.config.Reload(); err != nil {
		return "", err
	}
	return n.config.DisplayName(), nil
}

func (n *Node) requestRename(name string) {
	if !n.engine.Post(func() { n.engine.RenameLocalDevice(name) }) {
		n.logger.Warnf("unable to rename device to %q: engine stopped", name)
	}
}

// advertise announces the node once its device id is known and withdraws the
// announcement when ctx is cancelled.
func (n *Node) advertise(ctx context.Context, observed <-chan events.Event, listen string) {
	logger := n.logger.Sublogger("discovery")
	if listen == "" {
		listen = api.DefaultListenAddress
	}
	port, err := discovery.PortOf(listen)
	if err != nil {
		logger.Warn(errors.Wrap(err, "unable to advertise"))
		return
	}

	var advertiser *discovery.Advertiser
	defer func() { advertiser.Stop() }()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-observed:
			if !ok {
				return
			}
			if event.Kind != events.LocalDeviceID || advertiser != nil {
				continue
			}
			advertiser, err = n.advertiseFn(discovery.Config{
				DeviceID:   event.DeviceID,
				DeviceName: n.config.DisplayName(),
				Role:       n.Role(),
				Port:       port,
			})
			if err != nil {
				logger.Warn(err)
				continue
			}
			logger.Infof("advertising %s on port %d", event.DeviceID, port)
		}
	}
}

// Execute runs fn against the engine and completes every call it causes.
// It is for one-shot operations and must not be used while Run is executing.
func (n *Node) Execute(ctx context.Context, fn func(e *engine.Engine)) error {
	fn(n.engine)
	return n.engine.Settle(ctx)
}

// firstError returns the first global error among the observations, if any.
func firstError(observed []events.Event) error {
	for _, event := range observed {
		if event.Kind == events.GlobalError {
			return errors.New(event.Message)
		}
	}
	return nil
}

// drain collects whatever has been delivered to a subscription.
func drain(observed <-chan events.Event) []events.Event {
	var collected []events.Event
	for {
		select {
		case event := <-observed:
			collected = append(collected, event)
		default:
			return collected
		}
	}
}

// Status queries the peer's status report.
func (n *Node) Status(ctx context.Context) (*api.SystemStatus, error) {
	observed, unsubscribe := n.bus.Subscribe(observerBuffer)
	defer unsubscribe()

	if err := n.Execute(ctx, (*engine.Engine).QueryStatus); err != nil {
		return nil, err
	}
	collected := drain(observed)
	for _, event := range collected {
		if event.Kind == events.SystemStatus {
			return api.DecodeSystemStatus(event.Payload)
		}
	}
	if err := firstError(collected); err != nil {
		return nil, err
	}
	return nil, errors.New("peer did not report its status")
}

// LocalDeviceID resolves the peer's own device id.
func (n *Node) LocalDeviceID(ctx context.Context) (string, error) {
	observed, unsubscribe := n.bus.Subscribe(observerBuffer)
	defer unsubscribe()

	var id string
	if err := n.Execute(ctx, func(e *engine.Engine) {
		e.ResolveLocalDeviceID(func(resolved string) { id = resolved })
	}); err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	if err := firstError(drain(observed)); err != nil {
		return "", err
	}
	return "", errors.New("peer did not report its device id")
}

// CollectDiagnostics assembles a diagnostics document, stores it in every
// sink and returns it.
func (n *Node) CollectDiagnostics(ctx context.Context) ([]byte, error) {
	var document []byte
	var collectErr error
	finished := false
	if err := n.Execute(ctx, func(e *engine.Engine) {
		e.CollectDiagnostics(func(data []byte, err error) {
			document, collectErr, finished = data, err, true
		})
	}); err != nil {
		return nil, err
	}
	if !finished {
		return nil, errors.New("diagnostics collection did not finish")
	}
	if collectErr != nil {
		return nil, errors.Wrap(collectErr, "unable to collect diagnostics")
	}
	return document, nil
}

// Close releases the node's storage.
func (n *Node) Close() error {
	if n.snapshots != nil {
		return n.snapshots.Close()
	}
	return nil
}
