package engine

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
	"github.com/Fybrk/syncpair/pkg/types"
)

// GeneratedNamePrefix names accepted devices that did not announce a name.
const GeneratedNamePrefix = "NewDevice-"

func generatedName(id string) string {
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return GeneratedNamePrefix + id
}

func newFolderConfiguration(path string) api.FolderConfiguration {
	return api.FolderConfiguration{
		ID:      uuid.NewString(),
		Label:   filepath.Base(filepath.Clean(path)),
		Path:    path,
		Type:    api.FolderTypeSendReceive,
		Devices: []api.FolderDevice{},
	}
}

// FetchPendingDevices polls the devices waiting for acceptance. Each device
// that has not been seen before is announced and handed to the strategy.
func (e *Engine) FetchPendingDevices() {
	target := e.url(api.PathPendingDevices)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("pending device poll failed with status %d", response.StatusCode))
			return
		}
		devices, err := api.DecodePendingDevices(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse pending devices: %v", err))
			return
		}
		for _, device := range devices {
			if e.devices[device.ID] >= types.PairingPendingAcceptance {
				continue
			}
			e.advanceDevice(device.ID, types.PairingPendingAcceptance)
			e.logger.Infof("device %s (%s) requests pairing from %s", device.ID, device.Name, device.Address)
			e.publish(events.Event{
				Kind:     events.PairingRequested,
				DeviceID: device.ID,
				Address:  device.Address,
				Message:  device.Name,
			})
			e.strategy.DevicePairingRequested(e, device)
		}
	}))
}

// AcceptDevice adds a pending device to the peer configuration. Devices
// without a name are given a generated one. Devices without an id or an
// address are skipped and return to Unknown.
func (e *Engine) AcceptDevice(device types.Device) {
	if device.ID == "" || device.Address == "" {
		e.logger.Debugf("not accepting device %q without address", device.ID)
		e.resetDevice(device.ID)
		return
	}
	e.advanceDevice(device.ID, types.PairingPendingAcceptance)

	name := device.Name
	if name == "" {
		name = generatedName(device.ID)
	}
	entry := api.DeviceConfiguration{
		DeviceID:  device.ID,
		Name:      name,
		Addresses: []string{api.DialAddress(device.Address)},
	}

	e.modifyConfig("accept device "+device.ID, scheduler.PriorityHigh, func(config *api.Config) bool {
		return config.AddDevice(entry)
	}, func(changed bool, err error) {
		if err != nil {
			e.resetDevice(device.ID)
			return
		}
		e.advanceDevice(device.ID, types.PairingTrusted)
		if changed {
			e.publish(events.Event{Kind: events.DeviceAdded, DeviceID: device.ID, Address: device.Address})
		}
	})
}

// EnsureUpdateFolder creates the update folder if no folder uses its path
// and shares it with every connected device.
func (e *Engine) EnsureUpdateFolder() {
	e.ShareFolder(e.options.UpdatePath)
	e.ShareFolderWithConnectedDevices(e.options.UpdatePath)
}

// ShareFolderWithConnectedDevices adds every connected, configured device to
// the folder at path. Devices that end up sharing the folder advance to
// Connected.
func (e *Engine) ShareFolderWithConnectedDevices(path string) {
	target := e.url(api.PathConnections)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("connection poll failed with status %d", response.StatusCode))
			return
		}
		connections, err := api.DecodeConnections(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse connections: %v", err))
			return
		}

		var connected []string
		for id, connection := range connections.Connections {
			if connection.Connected {
				connected = append(connected, id)
			}
		}
		if len(connected) == 0 {
			return
		}
		sort.Strings(connected)

		var sharing []string
		e.modifyConfig("share "+path+" with connected devices", scheduler.PriorityNormal, func(config *api.Config) bool {
			sharing = sharing[:0]
			folder := config.FolderByPath(path)
			if folder == nil {
				return false
			}
			changed := false
			for _, id := range connected {
				if config.Device(id) == nil {
					continue
				}
				if folder.AddDevice(id) {
					e.logger.Infof("sharing %s with %s", folder.ID, id)
					changed = true
				}
				sharing = append(sharing, id)
			}
			return changed
		}, func(changed bool, err error) {
			if err != nil {
				return
			}
			for _, id := range sharing {
				e.advanceDevice(id, types.PairingSharingFolder)
				e.advanceDevice(id, types.PairingConnected)
			}
		})
	}))
}

// ScreenDeviceRequest applies the address allow-list to a pairing request.
// A device whose host is not allowed is disconnected and false is returned.
// With no explicit list the configured peer address is the only allowed
// host, and an empty peer address allows everything.
//
// The policy is available to strategies but the built-in ones do not apply
// it.
func (e *Engine) ScreenDeviceRequest(device types.Device, allowed ...string) bool {
	if len(allowed) == 0 {
		if e.options.PeerAddress == "" {
			return true
		}
		allowed = []string{e.options.PeerAddress}
	}
	host := api.Host(device.Address)
	for _, candidate := range allowed {
		if api.Host(candidate) == host {
			return true
		}
	}
	e.logger.Warnf("rejecting device %s from %s", device.ID, device.Address)
	e.resetDevice(device.ID)
	e.DisconnectDevice(device.ID)
	return false
}
