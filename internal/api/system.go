package api

import (
	"bytes"
	"encoding/json"
	"time"
)

// HealthOK is the status reported by a healthy peer.
const HealthOK = "OK"

// Health is the unauthenticated health response.
type Health struct {
	Status string `json:"status"`
}

// DecodeHealth parses a health response.
func DecodeHealth(data []byte) (*Health, error) {
	health := &Health{}
	if err := json.Unmarshal(data, health); err != nil {
		return nil, asShapeError(err)
	}
	return health, nil
}

// OK reports whether the peer considers itself healthy.
func (h *Health) OK() bool {
	return h.Status == HealthOK
}

// SystemStatus is the subset of the peer's status report that is consumed
// here. Raw keeps the full document.
type SystemStatus struct {
	MyID            string          `json:"myID"`
	Uptime          int64           `json:"uptime"`
	Alloc           uint64          `json:"alloc"`
	Sys             uint64          `json:"sys"`
	Goroutines      int             `json:"goroutines"`
	StartTime       timestamp       `json:"startTime"`
	DiscoveryErrors json.RawMessage `json:"discoveryErrors"`

	Raw json.RawMessage `json:"-"`
}

// DecodeSystemStatus parses a status report.
func DecodeSystemStatus(data []byte) (*SystemStatus, error) {
	status := &SystemStatus{}
	if err := json.Unmarshal(data, status); err != nil {
		return nil, asShapeError(err)
	}
	status.Raw = append(json.RawMessage(nil), data...)
	return status, nil
}

// Started returns the peer's start time, or the zero time if unknown.
func (s *SystemStatus) Started() time.Time {
	return time.Time(s.StartTime)
}

// DiscoveryErrorText returns the discovery errors as compact JSON, or the
// empty string if there are none.
func (s *SystemStatus) DiscoveryErrorText() string {
	trimmed := bytes.TrimSpace(s.DiscoveryErrors)
	if len(trimmed) == 0 {
		return ""
	}
	switch string(trimmed) {
	case "null", "{}", "[]", `""`:
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

// LogDocument normalizes a system log response to a JSON object. A body that
// is not an object is wrapped as {"log": "<text>"}.
func LogDocument(data []byte) map[string]json.RawMessage {
	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err == nil && document != nil {
		return document
	}
	text, _ := json.Marshal(string(data))
	return map[string]json.RawMessage{"log": text}
}
