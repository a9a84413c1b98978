package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/pkg/types"
)

func TestDeviceCommands(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.PauseDevice("SERVER")
	f.engine.ResumeDevice("SERVER")
	f.engine.DisconnectDevice("SERVER")
	f.settle(t)

	for _, path := range []string{api.PathPause, api.PathResume, api.PathDisconnect} {
		requests := f.peer.Requests("POST", path)
		require.Len(t, requests, 1, path)
		assert.Equal(t, "device=SERVER", requests[0].Query)
	}

	observed := f.drainEvents()
	assert.Len(t, ofKind(observed, events.DevicePaused), 1)
	assert.Len(t, ofKind(observed, events.DeviceResumed), 1)
	assert.Len(t, ofKind(observed, events.RequestProcessed), 3)
}

func TestRemoveDevice(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.devices["SERVER"] = types.PairingConnected

	f.engine.RemoveDevice("SERVER")
	f.settle(t)

	deletes := f.peer.Requests("DELETE", api.PathConfigDevices)
	require.Len(t, deletes, 1)
	assert.Equal(t, api.ConfigDevicePath("SERVER"), deletes[0].Path)
	assert.Equal(t, types.PairingUnknown, f.engine.PairingState("SERVER"))
	assert.Len(t, ofKind(f.drainEvents(), events.DeviceRemoved), 1)
}

func TestFolderCommands(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.PauseFolder("update")
	f.engine.ResumeFolder("update")
	f.engine.RescanFolder("update")
	f.settle(t)

	patches := f.peer.Requests("PATCH", api.ConfigFolderPath("update"))
	require.Len(t, patches, 2)
	assert.JSONEq(t, `{"paused":true}`, patches[0].Body)
	assert.JSONEq(t, `{"paused":false}`, patches[1].Body)

	scans := f.peer.Requests("POST", api.PathScan)
	require.Len(t, scans, 1)
	assert.Equal(t, "folder=update", scans[0].Query)

	observed := f.drainEvents()
	assert.Len(t, ofKind(observed, events.FolderPaused), 1)
	assert.Len(t, ofKind(observed, events.FolderResumed), 1)
	assert.Len(t, ofKind(observed, events.FolderRescanned), 1)
}

func TestRejectedCommandIsReported(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Fail(api.PathScan, 404)

	f.engine.RescanFolder("missing")
	f.settle(t)

	observed := f.drainEvents()
	failures := ofKind(observed, events.GlobalError)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "status 404")
	assert.Empty(t, ofKind(observed, events.FolderRescanned))
	assert.Empty(t, ofKind(observed, events.RequestProcessed))
}

func TestApplyUpdate(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.ApplyUpdate()
	f.settle(t)
	assert.Len(t, ofKind(f.drainEvents(), events.GlobalError), 1)
	assert.Empty(t, f.peer.Requests("PATCH", ""))

	f.engine.acceptedFolder = "update"
	f.engine.ApplyUpdate()
	f.settle(t)
	patches := f.peer.Requests("PATCH", api.ConfigFolderPath("update"))
	require.Len(t, patches, 1)
	assert.JSONEq(t, `{"paused":false}`, patches[0].Body)
}

func TestQueryStatus(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.QueryStatus()
	f.settle(t)

	assert.Equal(t, "LOCAL", f.engine.LocalDeviceID())
	snapshots := ofKind(f.drainEvents(), events.SystemStatus)
	require.Len(t, snapshots, 1)
	assert.JSONEq(t, f.peer.Get(api.PathStatus), string(snapshots[0].Payload))
}

func TestResolveLocalDeviceID(t *testing.T) {
	f := newFixture(t, Options{})

	var resolved string
	f.engine.ResolveLocalDeviceID(func(id string) { resolved = id })
	f.settle(t)
	assert.Equal(t, "LOCAL", resolved)
	assert.Len(t, ofKind(f.drainEvents(), events.LocalDeviceID), 1)

	f.peer.Set(api.PathStatus, `{"uptime":1}`)
	f.engine.ResolveLocalDeviceID(func(string) { t.Fatal("resolved without an id") })
	f.settle(t)
	assert.Len(t, ofKind(f.drainEvents(), events.GlobalError), 1)
}

func TestResolveDeviceID(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Set(api.PathConfigDevices, `[
		{"deviceID":"LOCAL","addresses":["dynamic"]},
		{"deviceID":"SERVER","addresses":["tcp://192.168.1.101:22000"]}
	]`)

	f.engine.ResolveDeviceID("192.168.1.101")
	f.engine.ResolveDeviceID("10.0.0.1:22000")
	f.settle(t)

	resolved := ofKind(f.drainEvents(), events.DeviceIDResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, "SERVER", resolved[0].DeviceID)
	assert.Equal(t, "192.168.1.101", resolved[0].Address)
}
