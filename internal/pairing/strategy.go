// Package pairing provides the role strategies that sit on top of the
// orchestration engine, and the pairing card an operator uses to point a
// subordinate at its authority.
package pairing

import (
	"github.com/Fybrk/syncpair/internal/engine"
	"github.com/Fybrk/syncpair/internal/logging"
	"github.com/Fybrk/syncpair/pkg/types"
)

// Role names.
const (
	RoleAuthority   = "authority"
	RoleSubordinate = "subordinate"
)

// ForRole returns the strategy for the role flag. The choice is made once;
// the engine never re-checks the flag.
func ForRole(isAuthority bool, logger *logging.Logger) engine.Strategy {
	if isAuthority {
		return &Authority{logger: logger}
	}
	return &Subordinate{logger: logger}
}

// Authority accepts every device that asks to pair and shares the update
// folder with connected devices.
type Authority struct {
	logger *logging.Logger
}

// Name implements engine.Strategy.Name.
func (a *Authority) Name() string {
	return RoleAuthority
}

// Start implements engine.Strategy.Start.
func (a *Authority) Start(e *engine.Engine) {
	e.ConfigureLocalNode()
	e.ResolveLocalDeviceID(nil)
	e.EnsureUpdateFolder()
}

// Poll implements engine.Strategy.Poll.
func (a *Authority) Poll(e *engine.Engine) {
	e.FetchPendingDevices()
	e.ShareFolderWithConnectedDevices(e.Options().UpdatePath)
}

// DevicePairingRequested implements engine.Strategy.DevicePairingRequested.
func (a *Authority) DevicePairingRequested(e *engine.Engine, device types.Device) {
	e.AcceptDevice(device)
}

// FolderSharingRequested implements engine.Strategy.FolderSharingRequested.
func (a *Authority) FolderSharingRequested(_ *engine.Engine, folder types.Folder) {
	a.logger.Debugf("authority ignores offer of %s from %s", folder.ID, folder.OfferedBy)
}

// TracksCompletion implements engine.Strategy.TracksCompletion.
func (a *Authority) TracksCompletion() bool {
	return false
}

// Subordinate connects to its authority, accepts the update folder it
// offers, and reports when the folder has been fully received.
type Subordinate struct {
	logger *logging.Logger
}

// Name implements engine.Strategy.Name.
func (s *Subordinate) Name() string {
	return RoleSubordinate
}

// Start implements engine.Strategy.Start.
func (s *Subordinate) Start(e *engine.Engine) {
	e.ConfigureLocalNode()
	e.ResolveLocalDeviceID(nil)
	e.LoadAcceptedFolder()
	e.ConnectToPeer()
}

// Poll implements engine.Strategy.Poll.
func (s *Subordinate) Poll(e *engine.Engine) {
	e.FetchPendingFolders()
	e.CheckPeerConnection()
}

// DevicePairingRequested implements engine.Strategy.DevicePairingRequested.
func (s *Subordinate) DevicePairingRequested(_ *engine.Engine, device types.Device) {
	s.logger.Debugf("subordinate ignores pairing request from %s", device.ID)
}

// FolderSharingRequested implements engine.Strategy.FolderSharingRequested.
func (s *Subordinate) FolderSharingRequested(e *engine.Engine, folder types.Folder) {
	e.AcceptFolder(folder)
}

// TracksCompletion implements engine.Strategy.TracksCompletion.
func (s *Subordinate) TracksCompletion() bool {
	return true
}
