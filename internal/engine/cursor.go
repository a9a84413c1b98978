package engine

import (
	"fmt"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
	"github.com/Fybrk/syncpair/pkg/types"
)

// PollEvents fetches the events after the cursor and processes those that
// are newer than it. The cursor only moves forward, so duplicated or
// reordered ids in a batch are skipped.
func (e *Engine) PollEvents() {
	target := e.scheduler.URL(api.PathEvents, api.EventsQuery(e.lastEvent))
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("event poll failed with status %d", response.StatusCode))
			return
		}
		batch, err := api.DecodeEvents(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse events: %v", err))
			return
		}
		for _, event := range batch {
			if event.ID <= e.lastEvent {
				continue
			}
			e.advanceCursor(event.ID)
			e.handleEvent(event)
		}
	}))
}

func (e *Engine) advanceCursor(id uint64) {
	if id <= e.lastEvent {
		return
	}
	e.lastEvent = id
	if e.cursor == nil {
		return
	}
	if err := e.cursor.SetLastEvent(id); err != nil {
		e.logger.Warn(err)
	}
}

func (e *Engine) handleEvent(event api.Event) {
	switch event.Type {
	case api.EventFolderCompletion:
		if !e.strategy.TracksCompletion() {
			return
		}
		var completion api.FolderCompletion
		if err := event.DecodeData(&completion); err != nil {
			e.logger.Debugf("skipping event %d: %v", event.ID, err)
			return
		}
		e.recordCompletion(completion)
	case api.EventRemoteIndexUpdated:
		if e.acceptedFolder == "" {
			return
		}
		var update api.RemoteIndexUpdated
		if err := event.DecodeData(&update); err != nil {
			e.logger.Debugf("skipping event %d: %v", event.ID, err)
			return
		}
		if update.Folder != e.acceptedFolder {
			return
		}
		e.logger.Infof("update available in %s from %s", update.Folder, update.Device)
		e.publish(events.Event{
			Kind:     events.UpdateAvailable,
			FolderID: update.Folder,
			DeviceID: update.Device,
		})
	case api.EventDeviceConnected:
		var connected api.DeviceConnected
		if err := event.DecodeData(&connected); err == nil {
			e.logger.Debugf("device %s connected from %s", connected.ID, connected.Addr)
		}
	}
}

// recordCompletion updates the progress index and fires update-done the
// first time a (device, folder) pair reaches 100%. The index keeps the
// highest completion seen, so a later regression does not re-arm it.
func (e *Engine) recordCompletion(completion api.FolderCompletion) {
	key := progressKey{device: completion.Device, folder: completion.Folder}
	previous, seen := e.progress[key]
	if seen && previous >= completion.Completion {
		return
	}
	e.progress[key] = completion.Completion

	if !completion.Complete() {
		e.advanceFolder(completion.Folder, types.FolderSyncing)
		e.logger.Debugf("folder %s at %.0f%%", completion.Folder, completion.Completion)
		return
	}
	e.advanceFolder(completion.Folder, types.FolderComplete)
	e.logger.Infof("update done in %s", completion.Folder)
	e.publish(events.Event{
		Kind:     events.UpdateDone,
		FolderID: completion.Folder,
		DeviceID: completion.Device,
	})
}

// resetProgress forgets all completion state so that the next full sync is
// announced again.
func (e *Engine) resetProgress() {
	if len(e.progress) == 0 {
		return
	}
	e.logger.Debugf("clearing progress for %d folders", len(e.progress))
	e.progress = make(map[progressKey]float64)
	for id, state := range e.folders {
		if state > types.FolderAccepted {
			e.folders[id] = types.FolderAccepted
		}
	}
}
