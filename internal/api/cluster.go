package api

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/Fybrk/syncpair/pkg/types"
)

// timestamp is a lenient RFC 3339 time. Malformed or absent values decode to
// the zero time instead of failing the whole payload.
type timestamp time.Time

func (t *timestamp) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		*t = timestamp{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		*t = timestamp{}
		return nil
	}
	*t = timestamp(parsed)
	return nil
}

// PendingDevice is a device that has asked to connect and is not configured.
type PendingDevice struct {
	Time    timestamp `json:"time"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
}

// DecodePendingDevices parses the pending device map into devices ordered by
// id.
func DecodePendingDevices(data []byte) ([]types.Device, error) {
	var pending map[string]PendingDevice
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, asShapeError(err)
	}

	devices := make([]types.Device, 0, len(pending))
	for id, entry := range pending {
		devices = append(devices, types.Device{
			ID:      id,
			Name:    entry.Name,
			Address: entry.Address,
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

// FolderOffer is one device's offer of a folder.
type FolderOffer struct {
	Time             timestamp `json:"time"`
	Label            string    `json:"label"`
	Path             string    `json:"path"`
	ReceiveEncrypted bool      `json:"receiveEncrypted"`
	RemoteEncrypted  bool      `json:"remoteEncrypted"`
}

// PendingFolder lists the devices offering a folder.
type PendingFolder struct {
	OfferedBy map[string]FolderOffer `json:"offeredBy"`
}

// DecodePendingFolders parses the pending folder map. Each (folder, device)
// pair becomes one offer, ordered by folder id and then by offering device.
func DecodePendingFolders(data []byte) ([]types.Folder, error) {
	var pending map[string]PendingFolder
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, asShapeError(err)
	}

	var offers []types.Folder
	for id, folder := range pending {
		for device, offer := range folder.OfferedBy {
			offers = append(offers, types.Folder{
				ID:          id,
				Label:       offer.Label,
				Path:        offer.Path,
				LastUpdated: time.Time(offer.Time),
				IsOffer:     true,
				OfferedBy:   device,
			})
		}
	}
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].ID != offers[j].ID {
			return offers[i].ID < offers[j].ID
		}
		return offers[i].OfferedBy < offers[j].OfferedBy
	})
	return offers, nil
}

// Connection is the live state of a link to a configured device.
type Connection struct {
	Connected     bool   `json:"connected"`
	Paused        bool   `json:"paused"`
	Address       string `json:"address"`
	ClientVersion string `json:"clientVersion"`
	Type          string `json:"type"`
}

// Connections is the connection table reported by the peer.
type Connections struct {
	Connections map[string]Connection `json:"connections"`
}

// DecodeConnections parses the connection table.
func DecodeConnections(data []byte) (*Connections, error) {
	connections := &Connections{}
	if err := json.Unmarshal(data, connections); err != nil {
		return nil, asShapeError(err)
	}
	return connections, nil
}

// Connected reports whether any device is connected.
func (c *Connections) Connected() bool {
	for _, connection := range c.Connections {
		if connection.Connected {
			return true
		}
	}
	return false
}

// ByAddress returns the id of the device whose connection address matches
// address, ignoring scheme and port when the needle has none.
func (c *Connections) ByAddress(address string) (string, bool) {
	want := StripScheme(address)
	ids := make([]string, 0, len(c.Connections))
	for id := range c.Connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		have := StripScheme(c.Connections[id].Address)
		if have == want || Host(have) == want {
			return id, true
		}
	}
	return "", false
}

// DiscoveryEntry lists the addresses discovered for a device.
type DiscoveryEntry struct {
	Addresses []string `json:"addresses"`
}

// Discovery is the discovery cache reported by the peer.
type Discovery map[string]DiscoveryEntry

// DecodeDiscovery parses the discovery cache.
func DecodeDiscovery(data []byte) (Discovery, error) {
	var discovery Discovery
	if err := json.Unmarshal(data, &discovery); err != nil {
		return nil, asShapeError(err)
	}
	return discovery, nil
}

// Find returns the device id and the advertised address that matches
// address. The comparison ignores the tcp:// and tcp4:// schemes, and the
// port when address has none.
func (d Discovery) Find(address string) (string, string, bool) {
	want := StripScheme(address)
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, candidate := range d[id].Addresses {
			if have := StripScheme(candidate); have == want || Host(have) == want {
				return id, candidate, true
			}
		}
	}
	return "", "", false
}

// DialAddress returns the address to configure for a device. A tcp4 scheme is
// kept, anything else is normalized to tcp://.
func DialAddress(address string) string {
	if strings.HasPrefix(address, "tcp4://") {
		return address
	}
	return "tcp://" + StripScheme(address)
}

// StripScheme removes a leading tcp:// or tcp4:// from an address.
func StripScheme(address string) string {
	for _, scheme := range []string{"tcp4://", "tcp://"} {
		if strings.HasPrefix(address, scheme) {
			return strings.TrimPrefix(address, scheme)
		}
	}
	return address
}

// Host returns the host part of an address, without scheme or port.
func Host(address string) string {
	address = StripScheme(address)
	if index := strings.LastIndex(address, ":"); index > 0 && !strings.HasSuffix(address, "]") {
		return address[:index]
	}
	return address
}
