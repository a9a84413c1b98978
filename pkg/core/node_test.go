package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/config"
	"github.com/Fybrk/syncpair/internal/discovery"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/feed"
	"github.com/Fybrk/syncpair/internal/peertest"
	"github.com/Fybrk/syncpair/internal/storage"
)

const serviceConfig = `[Syncthing]
IP = 127.0.0.1:22000
Name = %s
IsServer = %t
ConfigXML = %s
UpdatePath = %s
LogDir = %s
LogLevel = debug

[Scheduler]
Tick = 20ms
Timeout = 2s

[Engine]
Liveness = false
Health = false
Events = false
Advertise = %t
Snapshots = snapshots.db
`

type fixture struct {
	dir    string
	path   string
	peer   *peertest.Peer
	server bool
}

func newFixture(t *testing.T, server bool) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		peer:   peertest.New(t),
		server: server,
	}
	f.path = filepath.Join(f.dir, config.FileName)

	address := strings.TrimPrefix(f.peer.URL(), "http://")
	document := fmt.Sprintf("<configuration><gui tls=\"false\"><address>%s</address><apikey>%s</apikey></gui></configuration>",
		address, peertest.APIKey)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "config.xml"), []byte(document), 0644))
	f.write(t, "Wrapper", false)
	return f
}

func (f *fixture) write(t *testing.T, name string, advertise bool) {
	t.Helper()
	contents := fmt.Sprintf(serviceConfig, name, f.server,
		filepath.Join(f.dir, "config.xml"),
		filepath.Join(f.dir, "update"),
		filepath.Join(f.dir, "log"),
		advertise,
	)
	require.NoError(t, os.WriteFile(f.path, []byte(contents), 0644))
}

func (f *fixture) node(t *testing.T, options Options) *Node {
	t.Helper()
	options.ConfigPath = f.path
	if options.LogOutput == nil {
		options.LogOutput = io.Discard
	}
	n, err := New(options)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

type running struct {
	cancel func()
	done   chan error
}

func start(n *Node) *running {
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- n.Run(ctx) }()
	return r
}

func (r *running) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestNewAssemblesNode(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{})

	assert.Equal(t, "subordinate", n.Role())
	assert.Equal(t, f.peer.URL(), n.Peer().BaseURL())
	assert.Equal(t, peertest.APIKey, n.Peer().APIKey)
	assert.Equal(t, f.path, n.Config().Path())
	assert.Equal(t, 20*time.Millisecond, n.Config().Scheduler.Tick)
	assert.NotNil(t, n.Engine())
	assert.NotNil(t, n.Bus())
	assert.NotNil(t, n.Logger())
	require.NotNil(t, n.Files())
	assert.Equal(t, filepath.Join(f.dir, "log"), n.Files().Dir())
	assert.NotNil(t, n.Snapshots())
	assert.FileExists(t, filepath.Join(f.dir, "snapshots.db"))
}

func TestNewRequiresPeerConfiguration(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "config.xml")))

	_, err := New(Options{ConfigPath: f.path, LogOutput: io.Discard})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrNoPeerConfig))
}

func TestNewRejectsUnknownLogLevel(t *testing.T) {
	f := newFixture(t, false)

	_, err := New(Options{ConfigPath: f.path, LogOutput: io.Discard, LogLevel: "loud"})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{})

	status, err := n.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", status.MyID)
	assert.Equal(t, int64(42), status.Uptime)
}

func TestStatusFailure(t *testing.T) {
	f := newFixture(t, false)
	f.peer.Fail(api.PathStatus, 500)
	n := f.node(t, Options{})

	_, err := n.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLocalDeviceID(t *testing.T) {
	f := newFixture(t, true)
	n := f.node(t, Options{})

	id, err := n.LocalDeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", id)
}

func TestLocalDeviceIDFailure(t *testing.T) {
	f := newFixture(t, true)
	f.peer.Set(api.PathStatus, `{"uptime":1}`)
	n := f.node(t, Options{})

	_, err := n.LocalDeviceID(context.Background())
	assert.Error(t, err)
}

func TestCollectDiagnosticsStoresDocument(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{})

	document, err := n.CollectDiagnostics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(document), "discoveryErrors")
	assert.Contains(t, string(document), "started")

	files, err := n.Files().Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)

	latest, err := n.Snapshots().Latest(storage.KindDiagnostics)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.JSONEq(t, string(document), string(latest.Document))
}

func TestCollectDiagnosticsFailure(t *testing.T) {
	f := newFixture(t, false)
	f.peer.Fail(api.PathLog, 500)
	n := f.node(t, Options{})

	_, err := n.CollectDiagnostics(context.Background())
	assert.Error(t, err)
}

func TestExecuteHonorsContext(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Status(ctx)
	assert.Error(t, err)
}

func TestRunStartsRoleAndRecordsStatus(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{})
	r := start(n)

	require.Eventually(t, func() bool {
		return len(f.peer.Requests("GET", api.PathConfigFolders)) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, n.Engine().Post(n.Engine().QueryStatus))
	require.Eventually(t, func() bool {
		latest, err := n.Snapshots().Latest(storage.KindStatus)
		return err == nil && latest != nil
	}, 5*time.Second, 10*time.Millisecond)

	r.stop(t)
}

func TestRunRenamesOnConfigurationEdit(t *testing.T) {
	f := newFixture(t, false)
	n := f.node(t, Options{Watch: true})
	r := start(n)
	defer r.stop(t)

	require.Eventually(t, func() bool {
		return len(f.peer.Requests("GET", api.PathConfigFolders)) > 0
	}, 5*time.Second, 10*time.Millisecond)

	f.write(t, "Kiosk", false)
	require.Eventually(t, func() bool {
		for _, request := range f.peer.Requests("POST", api.PathConfig) {
			if strings.Contains(request.Body, `"Kiosk"`) {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "Kiosk", n.Config().DisplayName())
}

func TestRunAdvertisesAuthority(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "Wrapper", true)
	n := f.node(t, Options{})

	var mu sync.Mutex
	var advertised []discovery.Config
	n.advertiseFn = func(cfg discovery.Config) (*discovery.Advertiser, error) {
		mu.Lock()
		defer mu.Unlock()
		advertised = append(advertised, cfg)
		return &discovery.Advertiser{}, nil
	}

	r := start(n)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(advertised) > 0
	}, 5*time.Second, 10*time.Millisecond)
	r.stop(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, advertised, 1)
	assert.Equal(t, "LOCAL", advertised[0].DeviceID)
	assert.Equal(t, "Wrapper", advertised[0].DeviceName)
	assert.Equal(t, "authority", advertised[0].Role)
	assert.Equal(t, 22000, advertised[0].Port)
}

func TestRunToleratesConfigurationRewrites(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, "Wrapper", true)
	n := f.node(t, Options{Watch: true})

	var mu sync.Mutex
	advertised := 0
	n.advertiseFn = func(discovery.Config) (*discovery.Advertiser, error) {
		mu.Lock()
		defer mu.Unlock()
		advertised++
		return &discovery.Advertiser{}, nil
	}

	r := start(n)
	for i := 0; i < 20; i++ {
		require.NoError(t, n.Config().SetLastEvent(uint64(i+1)))
		f.write(t, fmt.Sprintf("Wrapper-%d", i), true)
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return n.Config().DisplayName() == "Wrapper-19"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return advertised > 0
	}, 5*time.Second, 10*time.Millisecond)
	r.stop(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, advertised)
	assert.True(t, n.Config().Settings().Syncthing.IsServer)
}

func TestRunSkipsAdvertisingForSubordinate(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, "Wrapper", true)
	n := f.node(t, Options{})
	n.advertiseFn = func(discovery.Config) (*discovery.Advertiser, error) {
		t.Error("subordinate advertised itself")
		return nil, nil
	}

	r := start(n)
	require.Eventually(t, func() bool {
		return len(f.peer.Requests("GET", api.PathStatus)) > 0
	}, 5*time.Second, 10*time.Millisecond)
	r.stop(t)
}

func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	return address
}

func TestRunServesFeed(t *testing.T) {
	f := newFixture(t, false)
	address := freeAddress(t)
	n := f.node(t, Options{Feed: address})
	r := start(n)
	defer r.stop(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan events.Event, 256)
	go func() {
		for ctx.Err() == nil {
			feed.Follow(ctx, address, func(event events.Event) { received <- event })
			time.Sleep(20 * time.Millisecond)
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		n.Bus().Publish(events.Event{Kind: events.UpdateAvailable, FolderID: "update"})
		select {
		case event := <-received:
			if event.Kind == events.UpdateAvailable {
				assert.Equal(t, "update", event.FolderID)
				return
			}
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("feed never delivered")
		}
	}
}
