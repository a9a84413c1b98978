package types

import (
	"time"
)

// Folder represents a shared folder known to the peer. Its metadata is
// refined over several responses while the id is known first, so identity is
// the id alone.
type Folder struct {
	ID          string              `json:"id"`
	Label       string              `json:"label"`
	Path        string              `json:"path"`
	Items       map[string]struct{} `json:"-"`
	LastUpdated time.Time           `json:"last_updated"`
	IsOffer     bool                `json:"is_offer"`
	OfferedBy   string              `json:"offered_by,omitempty"`
}

// Equal reports whether two folders have the same id.
func (f Folder) Equal(other Folder) bool {
	return f.ID == other.ID
}

// AddItem records an item name in the folder.
func (f *Folder) AddItem(name string) {
	if f.Items == nil {
		f.Items = make(map[string]struct{})
	}
	f.Items[name] = struct{}{}
}

// FolderSet is a set of folders keyed by id.
type FolderSet map[string]Folder

// Put inserts or refines a folder. Later metadata replaces earlier metadata
// for the same id.
func (s FolderSet) Put(folder Folder) {
	s[folder.ID] = folder
}

// Contains reports whether a folder with the given id is in the set.
func (s FolderSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Device represents a node in the peer's cluster.
type Device struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Folders FolderSet `json:"-"`
}

// Equal reports whether two devices have the same id.
func (d Device) Equal(other Device) bool {
	return d.ID == other.ID
}

// Valid reports whether the device carries an identifier.
func (d Device) Valid() bool {
	return d.ID != ""
}

// PairingState is the authority-side progress of a device through pairing.
type PairingState int

const (
	PairingUnknown PairingState = iota
	PairingPendingAcceptance
	PairingTrusted
	PairingSharingFolder
	PairingConnected
)

// String returns the state name.
func (s PairingState) String() string {
	switch s {
	case PairingUnknown:
		return "unknown"
	case PairingPendingAcceptance:
		return "pending-acceptance"
	case PairingTrusted:
		return "trusted"
	case PairingSharingFolder:
		return "sharing-folder"
	case PairingConnected:
		return "connected"
	default:
		return "invalid"
	}
}

// FolderState is the subordinate-side progress of a folder offer.
type FolderState int

const (
	FolderUnknown FolderState = iota
	FolderOffered
	FolderAccepted
	FolderSyncing
	FolderComplete
)

// String returns the state name.
func (s FolderState) String() string {
	switch s {
	case FolderUnknown:
		return "unknown"
	case FolderOffered:
		return "offered"
	case FolderAccepted:
		return "accepted"
	case FolderSyncing:
		return "syncing"
	case FolderComplete:
		return "complete"
	default:
		return "invalid"
	}
}
