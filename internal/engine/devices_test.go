package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/pkg/types"
)

const pendingPair = `{
	"AAAA-1111": {"time": "2024-03-01T10:00:00Z", "name": "first", "address": "192.168.1.7:22000"},
	"BBBB-2222": {"time": "2024-03-01T10:00:01Z", "name": "second", "address": "192.168.1.8:22000"}
}`

func TestOnlyNewPendingDevicesArePaired(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.devices["AAAA-1111"] = types.PairingTrusted
	f.peer.Set(api.PathPendingDevices, pendingPair)

	f.engine.FetchPendingDevices()
	f.settle(t)

	require.Len(t, f.strategy.pairing, 1)
	assert.Equal(t, "BBBB-2222", f.strategy.pairing[0].ID)
	assert.Len(t, f.peer.Requests("POST", api.PathConfig), 1)

	device := f.config(t).Device("BBBB-2222")
	require.NotNil(t, device)
	assert.Equal(t, "second", device.Name)
	assert.Equal(t, []string{"tcp://192.168.1.8:22000"}, device.Addresses)
	assert.Equal(t, types.PairingTrusted, f.engine.PairingState("BBBB-2222"))

	observed := f.drainEvents()
	assert.Len(t, ofKind(observed, events.PairingRequested), 1)
	added := ofKind(observed, events.DeviceAdded)
	require.Len(t, added, 1)
	assert.Equal(t, "BBBB-2222", added[0].DeviceID)

	f.engine.FetchPendingDevices()
	f.settle(t)
	assert.Len(t, f.strategy.pairing, 1)
}

func TestPendingDeviceAnnouncedOnceWithoutAcceptance(t *testing.T) {
	f := newFixture(t, Options{})
	f.strategy.accept = false
	f.peer.Set(api.PathPendingDevices, pendingPair)

	f.engine.FetchPendingDevices()
	f.settle(t)
	f.engine.FetchPendingDevices()
	f.settle(t)

	assert.Len(t, f.strategy.pairing, 2)
	assert.Empty(t, f.peer.Requests("POST", api.PathConfig))
	assert.Equal(t, types.PairingPendingAcceptance, f.engine.PairingState("AAAA-1111"))
}

func TestAcceptConfiguredDevice(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.AcceptDevice(types.Device{ID: "LOCAL", Address: "192.168.1.5:22000"})
	f.settle(t)

	assert.Empty(t, f.peer.Requests("POST", api.PathConfig))
	assert.Equal(t, types.PairingTrusted, f.engine.PairingState("LOCAL"))
	assert.Empty(t, ofKind(f.drainEvents(), events.DeviceAdded))
}

func TestAcceptDeviceGeneratesName(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.AcceptDevice(types.Device{ID: "ABCDEFGH", Address: "tcp4://10.0.0.3:22000"})
	f.settle(t)

	device := f.config(t).Device("ABCDEFGH")
	require.NotNil(t, device)
	assert.Equal(t, "NewDevice-EFGH", device.Name)
	assert.Equal(t, []string{"tcp4://10.0.0.3:22000"}, device.Addresses)
}

func TestAcceptDeviceWithoutAddress(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.devices["ABCD"] = types.PairingPendingAcceptance

	f.engine.AcceptDevice(types.Device{ID: "ABCD"})
	f.settle(t)

	assert.Empty(t, f.peer.Requests("", api.PathConfig))
	assert.Equal(t, types.PairingUnknown, f.engine.PairingState("ABCD"))
}

func TestAcceptDeviceFailureResets(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Fail(api.PathConfig, 500)
	f.peer.Set(api.PathPendingDevices, `{"BBBB-2222": {"name": "second", "address": "192.168.1.8:22000"}}`)

	f.engine.FetchPendingDevices()
	f.settle(t)
	assert.Equal(t, types.PairingUnknown, f.engine.PairingState("BBBB-2222"))
	assert.NotEmpty(t, ofKind(f.drainEvents(), events.GlobalError))

	f.peer.Recover(api.PathConfig)
	f.engine.FetchPendingDevices()
	f.settle(t)
	assert.Len(t, f.strategy.pairing, 2)
	assert.Equal(t, types.PairingTrusted, f.engine.PairingState("BBBB-2222"))
}

func TestMalformedPendingDevices(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Set(api.PathPendingDevices, `["not", "a", "map"]`)

	f.engine.FetchPendingDevices()
	f.settle(t)

	assert.Empty(t, f.strategy.pairing)
	assert.Len(t, ofKind(f.drainEvents(), events.GlobalError), 1)
}

const sharedConfig = `{"devices":[
	{"deviceID":"LOCAL","name":"local","addresses":["dynamic"]},
	{"deviceID":"SERVER","name":"server","addresses":["tcp://192.168.1.101:22000"]}
],"folders":[
	{"id":"update","label":"update","path":"/work/update","type":"sendreceive","devices":[{"deviceID":"LOCAL"}]}
],"options":{"listenAddresses":["default"]}}`

func TestShareFolderWithConnectedDevices(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Set(api.PathConfig, sharedConfig)
	f.peer.Set(api.PathConnections, `{"connections":{
		"SERVER":{"connected":true,"address":"192.168.1.101:22000"},
		"STRANGER":{"connected":true},
		"OFFLINE":{"connected":false}
	}}`)

	f.engine.ShareFolderWithConnectedDevices("/work/update")
	f.settle(t)

	folder := f.config(t).Folder("update")
	require.NotNil(t, folder)
	assert.True(t, folder.HasDevice("SERVER"))
	assert.False(t, folder.HasDevice("STRANGER"))
	assert.Equal(t, types.PairingConnected, f.engine.PairingState("SERVER"))
	assert.Equal(t, types.PairingUnknown, f.engine.PairingState("STRANGER"))

	f.engine.ShareFolderWithConnectedDevices("/work/update")
	f.settle(t)
	assert.Len(t, f.peer.Requests("POST", api.PathConfig), 1)
}

func TestShareFolderWithoutConnections(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.ShareFolderWithConnectedDevices("/work/update")
	f.settle(t)

	assert.Empty(t, f.peer.Requests("", api.PathConfig))
}

func TestEnsureUpdateFolder(t *testing.T) {
	f := newFixture(t, Options{UpdatePath: "/srv/update"})

	f.engine.EnsureUpdateFolder()
	f.settle(t)
	f.engine.EnsureUpdateFolder()
	f.settle(t)

	config := f.config(t)
	require.Len(t, config.Folders, 1)
	assert.Equal(t, "/srv/update", config.Folders[0].Path)
	assert.Len(t, f.peer.Requests("POST", api.PathConfig), 1)
}

func TestScreenDeviceRequest(t *testing.T) {
	f := newFixture(t, Options{PeerAddress: "192.168.1.101:22000"})

	assert.True(t, f.engine.ScreenDeviceRequest(types.Device{ID: "SERVER", Address: "tcp://192.168.1.101:51234"}))
	assert.True(t, f.engine.ScreenDeviceRequest(types.Device{ID: "OTHER", Address: "10.0.0.9:22000"}, "10.0.0.9"))

	f.engine.devices["ROGUE"] = types.PairingPendingAcceptance
	assert.False(t, f.engine.ScreenDeviceRequest(types.Device{ID: "ROGUE", Address: "10.0.0.66:22000"}))
	f.settle(t)

	assert.Equal(t, types.PairingUnknown, f.engine.PairingState("ROGUE"))
	disconnects := f.peer.Requests("POST", api.PathDisconnect)
	require.Len(t, disconnects, 1)
	assert.Equal(t, "device=ROGUE", disconnects[0].Query)

	open := newFixture(t, Options{})
	assert.True(t, open.engine.ScreenDeviceRequest(types.Device{ID: "ANY", Address: "10.0.0.66:22000"}))
}
