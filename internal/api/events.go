package api

import (
	"encoding/json"
)

// Event types consumed from the peer's event stream.
const (
	EventFolderCompletion   = "FolderCompletion"
	EventRemoteIndexUpdated = "RemoteIndexUpdated"
	EventDeviceConnected    = "DeviceConnected"
	EventDeviceDisconnected = "DeviceDisconnected"
)

// Event is one entry of the peer's event stream.
type Event struct {
	ID   uint64          `json:"id"`
	Type string          `json:"type"`
	Time timestamp       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// DecodeEvents parses an event batch.
func DecodeEvents(data []byte) ([]Event, error) {
	var batch []Event
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, asShapeError(err)
	}
	return batch, nil
}

// FolderCompletion is the payload of a FolderCompletion event.
type FolderCompletion struct {
	Folder     string  `json:"folder"`
	Device     string  `json:"device"`
	Completion float64 `json:"completion"`
}

// Complete reports whether the remote device holds the whole folder.
func (c FolderCompletion) Complete() bool {
	return c.Completion >= 100
}

// RemoteIndexUpdated is the payload of a RemoteIndexUpdated event.
type RemoteIndexUpdated struct {
	Folder string `json:"folder"`
	Device string `json:"device"`
	Items  int    `json:"items"`
}

// DeviceConnected is the payload of a DeviceConnected event.
type DeviceConnected struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// DecodeData unmarshals an event's data payload.
func (e Event) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrUnexpectedShape
	}
	return asShapeError(json.Unmarshal(e.Data, v))
}
