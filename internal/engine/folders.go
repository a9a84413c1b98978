package engine

import (
	"encoding/json"
	"fmt"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
	"github.com/Fybrk/syncpair/pkg/types"
)

// FetchPendingFolders polls the folder offers waiting for acceptance and
// selects the last one in id order. An offer is only announced once while
// its acceptance is outstanding.
func (e *Engine) FetchPendingFolders() {
	target := e.url(api.PathPendingFolders)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("pending folder poll failed with status %d", response.StatusCode))
			return
		}
		offers, err := api.DecodePendingFolders(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse pending folders: %v", err))
			return
		}
		if len(offers) == 0 {
			return
		}
		for _, offer := range offers {
			e.offers.Put(offer)
		}

		selected := offers[len(offers)-1]
		if e.folders[selected.ID] >= types.FolderOffered {
			return
		}
		e.advanceFolder(selected.ID, types.FolderOffered)
		e.logger.Infof("folder %s (%s) offered by %s", selected.ID, selected.Label, selected.OfferedBy)
		e.publish(events.Event{
			Kind:     events.FolderSharingRequested,
			FolderID: selected.ID,
			DeviceID: selected.OfferedBy,
			Message:  selected.Label,
		})
		e.strategy.FolderSharingRequested(e, selected)
	}))
}

// Offers returns the folder offers seen so far, keyed by folder id.
func (e *Engine) Offers() types.FolderSet {
	return e.offers
}

// AcceptFolder adds an offered folder as receive-only at the update path,
// shared with the offering device.
func (e *Engine) AcceptFolder(folder types.Folder) {
	entry := api.FolderConfiguration{
		ID:      folder.ID,
		Label:   folder.Label,
		Path:    e.options.UpdatePath,
		Type:    api.FolderTypeReceiveOnly,
		Devices: []api.FolderDevice{},
	}
	if folder.OfferedBy != "" {
		entry.AddDevice(folder.OfferedBy)
	}
	body, err := json.Marshal(entry)
	if err != nil {
		e.logger.Error(err)
		return
	}

	target := e.url(api.ConfigFolderPath(folder.ID))
	e.submit(scheduler.Put(target, body, func(response *scheduler.Response) {
		if !response.OK() {
			delete(e.folders, folder.ID)
			e.globalError(target, fmt.Sprintf("accepting folder %s failed with status %d", folder.ID, response.StatusCode))
			return
		}
		e.advanceFolder(folder.ID, types.FolderAccepted)
		e.acceptedFolder = folder.ID
		e.logger.Infof("accepted folder %s at %s", folder.ID, entry.Path)
	}).WithPriority(scheduler.PriorityHigh).WithFailure(func(error) {
		delete(e.folders, folder.ID)
	}))
}

// LoadAcceptedFolder looks up a previously accepted update folder by path so
// that update notifications survive a restart.
func (e *Engine) LoadAcceptedFolder() {
	target := e.url(api.PathConfigFolders)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("folder lookup failed with status %d", response.StatusCode))
			return
		}
		folders, err := api.DecodeFolders(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse folders: %v", err))
			return
		}
		config := api.Config{Folders: folders}
		if folder := config.FolderByPath(e.options.UpdatePath); folder != nil {
			e.acceptedFolder = folder.ID
			e.advanceFolder(folder.ID, types.FolderAccepted)
			e.logger.Debugf("update folder is %s", folder.ID)
		}
	}))
}
