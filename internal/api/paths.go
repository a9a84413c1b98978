// Package api describes the peer's management REST surface: endpoint paths
// and the typed shapes of the payloads exchanged with it.
package api

import (
	"net/url"
	"strconv"
)

// Endpoint paths, relative to the peer's management base address.
const (
	PathPing        = "/rest/system/ping"
	PathHealth      = "/rest/noauth/health"
	PathStatus      = "/rest/system/status"
	PathConfig      = "/rest/system/config"
	PathConnections = "/rest/system/connections"
	PathDiscovery   = "/rest/system/discovery"
	PathLog         = "/rest/system/log"
	PathPause       = "/rest/system/pause"
	PathResume      = "/rest/system/resume"

	PathEvents = "/rest/events"
	PathScan   = "/rest/db/scan"

	PathConfigDevices = "/rest/config/devices"
	PathConfigFolders = "/rest/config/folders"

	PathPendingDevices = "/rest/cluster/pending/devices"
	PathPendingFolders = "/rest/cluster/pending/folders"
	PathDisconnect     = "/rest/cluster/disconnect"
)

// ConfigDevicePath addresses a single configured device.
func ConfigDevicePath(id string) string {
	return PathConfigDevices + "/" + url.PathEscape(id)
}

// ConfigFolderPath addresses a single configured folder.
func ConfigFolderPath(id string) string {
	return PathConfigFolders + "/" + url.PathEscape(id)
}

// DeviceQuery builds the "device" query used by pause, resume and disconnect.
func DeviceQuery(id string) url.Values {
	return url.Values{"device": {id}}
}

// FolderQuery builds the "folder" query used by rescan.
func FolderQuery(id string) url.Values {
	return url.Values{"folder": {id}}
}

// EventsQuery builds the cursor query for the event stream. The peer holds
// an events request open until something happens unless it is given a
// timeout, so the query asks for an immediate answer.
func EventsQuery(since uint64) url.Values {
	return url.Values{
		"since":   {strconv.FormatUint(since, 10)},
		"timeout": {"0"},
	}
}
