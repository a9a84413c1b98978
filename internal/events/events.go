// Package events provides the typed observation stream emitted by the
// scheduler and the orchestration engine.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind identifies the type of an observation.
type Kind int

const (
	QueueDepthChanged Kind = iota
	CallEvicted
	CallExhausted
	GlobalError
	RequestProcessed
	DeviceAdded
	DeviceRemoved
	DevicePaused
	DeviceResumed
	FolderPaused
	FolderResumed
	FolderRescanned
	PairingRequested
	FolderSharingRequested
	SystemStatus
	Health
	Liveness
	UpdateAvailable
	UpdateDone
	DeviceIDResolved
	PeerConnected
	LocalDeviceID
)

var kindNames = map[Kind]string{
	QueueDepthChanged:      "queue-depth",
	CallEvicted:            "call-evicted",
	CallExhausted:          "call-exhausted",
	GlobalError:            "global-error",
	RequestProcessed:       "request-processed",
	DeviceAdded:            "device-added",
	DeviceRemoved:          "device-removed",
	DevicePaused:           "device-paused",
	DeviceResumed:          "device-resumed",
	FolderPaused:           "folder-paused",
	FolderResumed:          "folder-resumed",
	FolderRescanned:        "folder-rescanned",
	PairingRequested:       "pairing-requested",
	FolderSharingRequested: "folder-sharing-requested",
	SystemStatus:           "system-status",
	Health:                 "health",
	Liveness:               "liveness",
	UpdateAvailable:        "update-available",
	UpdateDone:             "update-done",
	DeviceIDResolved:       "device-id-resolved",
	PeerConnected:          "peer-connected",
	LocalDeviceID:          "local-device-id",
}

// String returns the observation name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText encodes the observation name.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown observation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes an observation name.
func (k *Kind) UnmarshalText(text []byte) error {
	kind, ok := ParseKind(string(text))
	if !ok {
		return fmt.Errorf("unknown observation %q", string(text))
	}
	*k = kind
	return nil
}

// ParseKind looks up an observation by name.
func ParseKind(name string) (Kind, bool) {
	for kind, candidate := range kindNames {
		if candidate == name {
			return kind, true
		}
	}
	return 0, false
}

// Event is a single observation. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"time"`
	// URL is the target of the call for scheduler observations.
	URL      string `json:"url,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Depth    int    `json:"depth,omitempty"`
	DeviceID string `json:"deviceID,omitempty"`
	FolderID string `json:"folderID,omitempty"`
	Address  string `json:"address,omitempty"`
	// Flag carries the boolean of health, liveness and peer-connected.
	Flag    bool   `json:"flag,omitempty"`
	Message string `json:"message,omitempty"`
	// Payload carries raw JSON for status snapshots.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// String renders an event for logs.
func (e Event) String() string {
	switch e.Kind {
	case QueueDepthChanged:
		return fmt.Sprintf("%s %d", e.Kind, e.Depth)
	case CallEvicted, CallExhausted:
		return fmt.Sprintf("%s %s (priority %d)", e.Kind, e.URL, e.Priority)
	case GlobalError, RequestProcessed:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case Health:
		return fmt.Sprintf("%s healthy=%t %s", e.Kind, e.Flag, e.Message)
	case Liveness, PeerConnected:
		return fmt.Sprintf("%s %t", e.Kind, e.Flag)
	case DeviceIDResolved:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Address, e.DeviceID)
	case FolderPaused, FolderResumed, FolderRescanned, FolderSharingRequested, UpdateAvailable, UpdateDone:
		return fmt.Sprintf("%s %s", e.Kind, e.FolderID)
	case SystemStatus:
		return fmt.Sprintf("%s %s", e.Kind, string(e.Payload))
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.DeviceID)
	}
}

// Publisher accepts observations.
type Publisher interface {
	Publish(Event)
}

// Bus fans observations out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	next        int
	dropped     uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
}

// Publish implements Publisher.Publish.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped++
		}
	}
}

// Dropped returns the number of deliveries lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
