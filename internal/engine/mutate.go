package engine

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// mutation is one queued read-modify-write of the peer configuration.
type mutation struct {
	description string
	priority    int
	// apply edits the configuration in place and reports whether anything
	// changed. It must check for existing entries before appending.
	apply func(config *api.Config) bool
	// done receives whether a push happened, or the error that stopped it.
	done func(changed bool, err error)
}

// modifyConfig queues a read-modify-write of the peer configuration. The
// peer offers no concurrency token, so mutations run one at a time: the next
// fetch is only issued after the previous push has completed.
func (e *Engine) modifyConfig(description string, priority int, apply func(*api.Config) bool, done func(bool, error)) {
	e.mutations = append(e.mutations, &mutation{
		description: description,
		priority:    priority,
		apply:       apply,
		done:        done,
	})
	e.nextMutation()
}

// PendingMutations returns the number of configuration edits waiting to run,
// including the one in progress.
func (e *Engine) PendingMutations() int {
	pending := len(e.mutations)
	if e.mutating {
		pending++
	}
	return pending
}

func (e *Engine) nextMutation() {
	if e.mutating || len(e.mutations) == 0 {
		return
	}
	m := e.mutations[0]
	e.mutations[0] = nil
	e.mutations = e.mutations[1:]
	e.mutating = true

	target := e.url(api.PathConfig)
	finish := func(changed bool, err error) {
		e.mutating = false
		if m.done != nil {
			m.done(changed, err)
		}
		e.nextMutation()
	}
	fail := func(err error) {
		e.globalError(target, fmt.Sprintf("unable to %s: %v", m.description, err))
		finish(false, err)
	}
	dropped := func(err error) {
		e.logger.Debugf("abandoning %s: %v", m.description, err)
		finish(false, err)
	}

	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			fail(errors.Errorf("configuration fetch returned status %d", response.StatusCode))
			return
		}
		config, err := api.DecodeConfig(response.Body)
		if err != nil {
			fail(err)
			return
		}
		if !m.apply(config) {
			e.logger.Debugf("%s: nothing to change", m.description)
			finish(false, nil)
			return
		}
		body, err := json.Marshal(config)
		if err != nil {
			fail(errors.Wrap(err, "unable to encode configuration"))
			return
		}
		e.submit(scheduler.Post(target, body, func(response *scheduler.Response) {
			if !response.OK() {
				fail(errors.Errorf("configuration push returned status %d", response.StatusCode))
				return
			}
			e.logger.Infof("%s: configuration updated", m.description)
			finish(true, nil)
		}).WithPriority(m.priority).WithFailure(dropped))
	}).WithPriority(m.priority).WithFailure(dropped))
}

// ConfigureLocalNode restricts the peer to the local network and pins its
// listen address and device name. Nothing is pushed when the settings are
// already in place.
func (e *Engine) ConfigureLocalNode() {
	listen, name := e.options.ListenAddress, e.options.DeviceName
	e.modifyConfig("configure local node", scheduler.PriorityHigh, func(config *api.Config) bool {
		return config.Options.RestrictToLocalNetwork(listen, name)
	}, nil)
}

// ShareFolder creates a send-receive folder for path unless a folder with
// that path already exists.
func (e *Engine) ShareFolder(path string) {
	e.modifyConfig("share folder "+path, scheduler.PriorityNormal, func(config *api.Config) bool {
		if config.FolderByPath(path) != nil {
			return false
		}
		return config.AddFolder(newFolderConfiguration(path))
	}, nil)
}

// AddDeviceToFolder shares an existing folder with a configured device.
func (e *Engine) AddDeviceToFolder(folderID, deviceID string) {
	description := fmt.Sprintf("add device %s to folder %s", deviceID, folderID)
	e.modifyConfig(description, scheduler.PriorityNormal, func(config *api.Config) bool {
		folder := config.Folder(folderID)
		if folder == nil {
			e.logger.Warnf("folder %s is not configured", folderID)
			return false
		}
		return folder.AddDevice(deviceID)
	}, nil)
}

// RenameLocalDevice changes the local device's display name on the peer. The
// local id is resolved first if it is not yet known.
func (e *Engine) RenameLocalDevice(name string) {
	e.options.DeviceName = name
	if e.localID == "" {
		e.ResolveLocalDeviceID(func(string) { e.renameLocalDevice(name) })
		return
	}
	e.renameLocalDevice(name)
}

func (e *Engine) renameLocalDevice(name string) {
	id := e.localID
	e.modifyConfig("rename local device to "+name, scheduler.PriorityNormal, func(config *api.Config) bool {
		changed := false
		if device := config.Device(id); device != nil && device.Name != name {
			device.Name = name
			changed = true
		}
		if config.Options.DeviceName != "" && config.Options.DeviceName != name {
			config.Options.DeviceName = name
			changed = true
		}
		return changed
	}, nil)
}
