package engine

import (
	"encoding/json"
	"fmt"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// CheckPeerConnection reads the connection table, reports peer-connected
// when it changes, and bootstraps the connection when nothing is connected.
// A reconnection clears the progress index.
func (e *Engine) CheckPeerConnection() {
	target := e.url(api.PathConnections)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("connection poll failed with status %d", response.StatusCode))
			return
		}
		connections, err := api.DecodeConnections(response.Body)
		if err != nil {
			e.globalError(target, fmt.Sprintf("unable to parse connections: %v", err))
			return
		}
		connected := connections.Connected()
		e.setPeerConnected(connected)
		if !connected {
			e.ConnectToPeer()
		}
	}))
}

func (e *Engine) setPeerConnected(connected bool) {
	if e.peerKnown && e.peerConnected == connected {
		return
	}
	reconnected := e.peerKnown && connected
	e.peerKnown = true
	e.peerConnected = connected
	if reconnected {
		e.resetProgress()
	}
	e.logger.Infof("peer connected: %t", connected)
	e.publish(events.Event{Kind: events.PeerConnected, Flag: connected})
}

// ConnectToPeer resolves the configured peer address against the discovery
// cache and registers the matching device so that the peer dials it. Only
// one bootstrap runs at a time.
func (e *Engine) ConnectToPeer() {
	if e.bootstrapping || e.options.PeerAddress == "" {
		return
	}
	e.bootstrapping = true
	finished := func(error) { e.bootstrapping = false }

	target := e.url(api.PathDiscovery)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			e.bootstrapping = false
			e.globalError(target, fmt.Sprintf("discovery lookup failed with status %d", response.StatusCode))
			return
		}
		discovery, err := api.DecodeDiscovery(response.Body)
		if err != nil {
			e.bootstrapping = false
			e.globalError(target, fmt.Sprintf("unable to parse discovery: %v", err))
			return
		}
		id, address, ok := discovery.Find(e.options.PeerAddress)
		if !ok {
			e.bootstrapping = false
			e.logger.Debugf("peer %s not discovered yet", e.options.PeerAddress)
			return
		}
		e.logger.Infof("peer %s is device %s", e.options.PeerAddress, id)
		e.publish(events.Event{Kind: events.DeviceIDResolved, Address: e.options.PeerAddress, DeviceID: id})
		e.registerPeer(id, api.DialAddress(address))
	}).WithPriority(scheduler.PriorityNormal).WithFailure(finished))
}

func (e *Engine) registerPeer(id, address string) {
	body, err := json.Marshal(api.DeviceConfiguration{DeviceID: id, Addresses: []string{address}})
	if err != nil {
		e.bootstrapping = false
		e.logger.Error(err)
		return
	}
	target := e.url(api.ConfigDevicePath(id))
	e.submit(scheduler.Put(target, body, func(response *scheduler.Response) {
		e.bootstrapping = false
		if !response.OK() {
			e.globalError(target, fmt.Sprintf("registering peer %s failed with status %d", id, response.StatusCode))
			return
		}
		e.publish(events.Event{Kind: events.DeviceAdded, DeviceID: id, Address: address})
	}).WithPriority(scheduler.PriorityHigh).WithFailure(func(error) {
		e.bootstrapping = false
	}))
}
