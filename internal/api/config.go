package api

import (
	"encoding/json"
	"strings"
)

// FolderDevice is a device entry inside a folder's sharing list.
type FolderDevice struct {
	DeviceID string `json:"deviceID"`

	extra members
}

func (d *FolderDevice) UnmarshalJSON(data []byte) error {
	type plain FolderDevice
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	extra, err := unknownMembers(data, "deviceID")
	d.extra = extra
	return err
}

func (d FolderDevice) MarshalJSON() ([]byte, error) {
	type plain FolderDevice
	typed, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	return withMembers(typed, d.extra)
}

// DeviceConfiguration is a configured remote device.
type DeviceConfiguration struct {
	DeviceID  string   `json:"deviceID"`
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`

	extra members
}

func (d *DeviceConfiguration) UnmarshalJSON(data []byte) error {
	type plain DeviceConfiguration
	if err := json.Unmarshal(data, (*plain)(d)); err != nil {
		return err
	}
	extra, err := unknownMembers(data, "deviceID", "name", "addresses")
	d.extra = extra
	return err
}

func (d DeviceConfiguration) MarshalJSON() ([]byte, error) {
	type plain DeviceConfiguration
	if d.Addresses == nil {
		d.Addresses = []string{}
	}
	typed, err := json.Marshal(plain(d))
	if err != nil {
		return nil, err
	}
	return withMembers(typed, d.extra)
}

// FolderConfiguration is a configured shared folder.
type FolderConfiguration struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	Path    string         `json:"path"`
	Type    string         `json:"type"`
	Devices []FolderDevice `json:"devices"`

	extra members
}

// Folder types understood by the peer.
const (
	FolderTypeSendReceive = "sendreceive"
	FolderTypeReceiveOnly = "receiveonly"
)

func (f *FolderConfiguration) UnmarshalJSON(data []byte) error {
	type plain FolderConfiguration
	if err := json.Unmarshal(data, (*plain)(f)); err != nil {
		return err
	}
	extra, err := unknownMembers(data, "id", "label", "path", "type", "devices")
	f.extra = extra
	return err
}

func (f FolderConfiguration) MarshalJSON() ([]byte, error) {
	type plain FolderConfiguration
	if f.Devices == nil {
		f.Devices = []FolderDevice{}
	}
	typed, err := json.Marshal(plain(f))
	if err != nil {
		return nil, err
	}
	return withMembers(typed, f.extra)
}

// HasDevice reports whether the folder is shared with the device.
func (f *FolderConfiguration) HasDevice(id string) bool {
	for _, device := range f.Devices {
		if device.DeviceID == id {
			return true
		}
	}
	return false
}

// AddDevice shares the folder with the device. It reports false if the
// device was already present.
func (f *FolderConfiguration) AddDevice(id string) bool {
	if f.HasDevice(id) {
		return false
	}
	f.Devices = append(f.Devices, FolderDevice{DeviceID: id})
	return true
}

// RemoveDevice stops sharing the folder with the device. It reports whether
// an entry was removed.
func (f *FolderConfiguration) RemoveDevice(id string) bool {
	for i, device := range f.Devices {
		if device.DeviceID == id {
			f.Devices = append(f.Devices[:i], f.Devices[i+1:]...)
			return true
		}
	}
	return false
}

// Options is the peer's global options block.
type Options struct {
	GlobalAnnounceEnabled bool     `json:"globalAnnounceEnabled"`
	LocalAnnounceEnabled  bool     `json:"localAnnounceEnabled"`
	NATEnabled            bool     `json:"natEnabled"`
	RelaysEnabled         bool     `json:"relaysEnabled"`
	ListenAddresses       []string `json:"listenAddresses"`
	DeviceName            string   `json:"deviceName,omitempty"`

	extra members
}

func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	if err := json.Unmarshal(data, (*plain)(o)); err != nil {
		return err
	}
	extra, err := unknownMembers(data,
		"globalAnnounceEnabled", "localAnnounceEnabled", "natEnabled",
		"relaysEnabled", "listenAddresses", "deviceName",
	)
	o.extra = extra
	return err
}

func (o Options) MarshalJSON() ([]byte, error) {
	type plain Options
	if o.ListenAddresses == nil {
		o.ListenAddresses = []string{}
	}
	typed, err := json.Marshal(plain(o))
	if err != nil {
		return nil, err
	}
	return withMembers(typed, o.extra)
}

// DefaultListenAddress is used for local-only operation when no bind address
// is configured.
const DefaultListenAddress = "tcp://0.0.0.0:22000"

// RestrictToLocalNetwork disables global discovery, NAT traversal and relays,
// keeps local discovery, and pins the listen address and device name. It
// reports whether anything changed.
func (o *Options) RestrictToLocalNetwork(listenAddress, deviceName string) bool {
	if listenAddress == "" {
		listenAddress = DefaultListenAddress
	}
	changed := o.GlobalAnnounceEnabled || o.NATEnabled || o.RelaysEnabled || !o.LocalAnnounceEnabled ||
		len(o.ListenAddresses) != 1 || o.ListenAddresses[0] != listenAddress ||
		o.DeviceName != deviceName

	o.GlobalAnnounceEnabled = false
	o.NATEnabled = false
	o.RelaysEnabled = false
	o.LocalAnnounceEnabled = true
	o.ListenAddresses = []string{listenAddress}
	o.DeviceName = deviceName
	return changed
}

// Config is the peer's full configuration document.
type Config struct {
	Devices []DeviceConfiguration `json:"devices"`
	Folders []FolderConfiguration `json:"folders"`
	Options Options               `json:"options"`

	extra members
}

func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	extra, err := unknownMembers(data, "devices", "folders", "options")
	c.extra = extra
	return err
}

func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	if c.Devices == nil {
		c.Devices = []DeviceConfiguration{}
	}
	if c.Folders == nil {
		c.Folders = []FolderConfiguration{}
	}
	typed, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	return withMembers(typed, c.extra)
}

// DecodeDevices parses the configured device list.
func DecodeDevices(data []byte) ([]DeviceConfiguration, error) {
	var devices []DeviceConfiguration
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, asShapeError(err)
	}
	return devices, nil
}

// DecodeFolders parses the configured folder list.
func DecodeFolders(data []byte) ([]FolderConfiguration, error) {
	var folders []FolderConfiguration
	if err := json.Unmarshal(data, &folders); err != nil {
		return nil, asShapeError(err)
	}
	return folders, nil
}

// DecodeConfig parses a configuration document.
func DecodeConfig(data []byte) (*Config, error) {
	config := &Config{}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, asShapeError(err)
	}
	return config, nil
}

// Device returns the configured device with the given id.
func (c *Config) Device(id string) *DeviceConfiguration {
	for i := range c.Devices {
		if c.Devices[i].DeviceID == id {
			return &c.Devices[i]
		}
	}
	return nil
}

// AddDevice appends a device unless its id is already configured. It reports
// whether the device was added.
func (c *Config) AddDevice(device DeviceConfiguration) bool {
	if c.Device(device.DeviceID) != nil {
		return false
	}
	c.Devices = append(c.Devices, device)
	return true
}

// RemoveDevice deletes a device and unshares every folder with it. It
// reports whether the configuration changed.
func (c *Config) RemoveDevice(id string) bool {
	changed := false
	for i := range c.Devices {
		if c.Devices[i].DeviceID == id {
			c.Devices = append(c.Devices[:i], c.Devices[i+1:]...)
			changed = true
			break
		}
	}
	for i := range c.Folders {
		if c.Folders[i].RemoveDevice(id) {
			changed = true
		}
	}
	return changed
}

// Folder returns the configured folder with the given id.
func (c *Config) Folder(id string) *FolderConfiguration {
	for i := range c.Folders {
		if c.Folders[i].ID == id {
			return &c.Folders[i]
		}
	}
	return nil
}

// FolderByPath returns the configured folder with the given path. Trailing
// separators are ignored.
func (c *Config) FolderByPath(path string) *FolderConfiguration {
	want := strings.TrimRight(path, "/")
	for i := range c.Folders {
		if strings.TrimRight(c.Folders[i].Path, "/") == want {
			return &c.Folders[i]
		}
	}
	return nil
}

// AddFolder appends a folder unless its id is already configured. It reports
// whether the folder was added.
func (c *Config) AddFolder(folder FolderConfiguration) bool {
	if c.Folder(folder.ID) != nil {
		return false
	}
	c.Folders = append(c.Folders, folder)
	return true
}
