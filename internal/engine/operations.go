package engine

import (
	"fmt"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// perform submits a one-shot command. Non-2xx answers are reported as
// global errors, success runs done and emits request-processed.
func (e *Engine) perform(call *scheduler.Call, description string, done func(*scheduler.Response)) {
	call.Handler = func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(call.URL, fmt.Sprintf("%s failed with status %d", description, response.StatusCode))
			return
		}
		e.logger.Debugf("%s succeeded", description)
		if done != nil {
			done(response)
		}
		e.publish(events.Event{Kind: events.RequestProcessed, URL: call.URL, Message: description})
	}
	if call.Priority == 0 {
		call.Priority = scheduler.PriorityNormal
	}
	e.submit(call)
}

// RemoveDevice deletes a device from the peer configuration.
func (e *Engine) RemoveDevice(id string) {
	e.perform(scheduler.Delete(e.url(api.ConfigDevicePath(id)), nil), "remove device "+id, func(*scheduler.Response) {
		delete(e.devices, id)
		e.publish(events.Event{Kind: events.DeviceRemoved, DeviceID: id})
	})
}

// PauseDevice suspends synchronization with a device.
func (e *Engine) PauseDevice(id string) {
	target := e.scheduler.URL(api.PathPause, api.DeviceQuery(id))
	e.perform(scheduler.Post(target, nil, nil), "pause device "+id, func(*scheduler.Response) {
		e.publish(events.Event{Kind: events.DevicePaused, DeviceID: id})
	})
}

// ResumeDevice resumes synchronization with a device.
func (e *Engine) ResumeDevice(id string) {
	target := e.scheduler.URL(api.PathResume, api.DeviceQuery(id))
	e.perform(scheduler.Post(target, nil, nil), "resume device "+id, func(*scheduler.Response) {
		e.publish(events.Event{Kind: events.DeviceResumed, DeviceID: id})
	})
}

// DisconnectDevice drops the current connection to a device. The device
// stays configured and may reconnect.
func (e *Engine) DisconnectDevice(id string) {
	target := e.scheduler.URL(api.PathDisconnect, api.DeviceQuery(id))
	e.perform(scheduler.Post(target, nil, nil), "disconnect device "+id, nil)
}

// PauseFolder suspends a folder.
func (e *Engine) PauseFolder(id string) {
	e.setFolderPaused(id, true)
}

// ResumeFolder resumes a folder.
func (e *Engine) ResumeFolder(id string) {
	e.setFolderPaused(id, false)
}

func (e *Engine) setFolderPaused(id string, paused bool) {
	description, kind := "resume folder "+id, events.FolderResumed
	if paused {
		description, kind = "pause folder "+id, events.FolderPaused
	}
	body := []byte(fmt.Sprintf(`{"paused":%t}`, paused))
	e.perform(scheduler.Patch(e.url(api.ConfigFolderPath(id)), body, nil), description, func(*scheduler.Response) {
		e.publish(events.Event{Kind: kind, FolderID: id})
	})
}

// RescanFolder asks the peer to rescan a folder.
func (e *Engine) RescanFolder(id string) {
	target := e.scheduler.URL(api.PathScan, api.FolderQuery(id))
	e.perform(scheduler.Post(target, nil, nil), "rescan folder "+id, func(*scheduler.Response) {
		e.publish(events.Event{Kind: events.FolderRescanned, FolderID: id})
	})
}

// ApplyUpdate resumes the accepted update folder so that pending changes are
// pulled in.
func (e *Engine) ApplyUpdate() {
	if e.acceptedFolder == "" {
		e.globalError("", "no update folder has been accepted")
		return
	}
	e.ResumeFolder(e.acceptedFolder)
}

// QueryStatus fetches the peer's status report and emits it as a snapshot.
func (e *Engine) QueryStatus() {
	target := e.url(api.PathStatus)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("status query failed with status %d", response.StatusCode))
			return
		}
		status, err := api.DecodeSystemStatus(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse status: %v", err))
			return
		}
		if status.MyID != "" {
			e.localID = status.MyID
		}
		e.publish(events.Event{Kind: events.SystemStatus, DeviceID: status.MyID, Payload: status.Raw})
	}))
}

// ResolveLocalDeviceID reads the local device id from the status report and
// passes it to then, which may be nil.
func (e *Engine) ResolveLocalDeviceID(then func(id string)) {
	target := e.url(api.PathStatus)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("status query failed with status %d", response.StatusCode))
			return
		}
		status, err := api.DecodeSystemStatus(response.Body)
		if err != nil || status.MyID == "" {
			e.globalError(target, "unable to resolve local device id")
			return
		}
		e.localID = status.MyID
		e.logger.Infof("local device is %s", status.MyID)
		e.publish(events.Event{Kind: events.LocalDeviceID, DeviceID: status.MyID})
		if then != nil {
			then(status.MyID)
		}
	}).WithPriority(scheduler.PriorityNormal))
}

// ResolveDeviceID finds the configured device whose address has the same
// host as address and emits device-id-resolved.
func (e *Engine) ResolveDeviceID(address string) {
	target := e.url(api.PathConfigDevices)
	want := api.Host(address)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("device lookup failed with status %d", response.StatusCode))
			return
		}
		devices, err := api.DecodeDevices(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse devices: %v", err))
			return
		}
		for _, device := range devices {
			for _, candidate := range device.Addresses {
				if api.Host(candidate) == want {
					e.publish(events.Event{Kind: events.DeviceIDResolved, Address: address, DeviceID: device.DeviceID})
					return
				}
			}
		}
		e.logger.Debugf("no configured device at %s", address)
	}))
}
