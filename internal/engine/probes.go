package engine

import (
	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// PeerDownReason is the health reason reported when the peer cannot be
// reached or answers with garbage.
const PeerDownReason = "peer is down"

// CheckLiveness pings the peer and reports liveness(true) on any 2xx answer.
func (e *Engine) CheckLiveness() {
	e.submit(scheduler.Get(e.url(api.PathPing), func(response *scheduler.Response) {
		e.reportLiveness(response.OK())
	}).WithFailure(func(err error) {
		if errors.Is(err, scheduler.ErrEvicted) {
			return
		}
		e.reportLiveness(false)
	}))
}

func (e *Engine) reportLiveness(alive bool) {
	if !alive {
		e.logger.Warnf("peer did not answer ping")
	}
	e.publish(events.Event{Kind: events.Liveness, Flag: alive})
}

// CheckHealth queries the peer's health endpoint. An unhealthy answer is
// explained from the status report's discovery errors when there are any.
func (e *Engine) CheckHealth() {
	e.submit(scheduler.Get(e.url(api.PathHealth), func(response *scheduler.Response) {
		health, err := api.DecodeHealth(response.Body)
		if err != nil {
			e.logger.Debugf("unable to parse health response: %v", err)
			e.reportHealth(false, PeerDownReason)
			return
		}
		if health.OK() {
			e.reportHealth(true, "")
			return
		}
		e.explainHealth(health.Status)
	}).WithFailure(func(err error) {
		if errors.Is(err, scheduler.ErrEvicted) {
			return
		}
		e.reportHealth(false, PeerDownReason)
	}))
}

func (e *Engine) explainHealth(status string) {
	e.submit(scheduler.Get(e.url(api.PathStatus), func(response *scheduler.Response) {
		if !response.OK() {
			e.reportHealth(false, status)
			return
		}
		report, err := api.DecodeSystemStatus(response.Body)
		if err != nil {
			e.reportHealth(false, status)
			return
		}
		if reason := report.DiscoveryErrorText(); reason != "" {
			e.reportHealth(false, reason)
			return
		}
		e.reportHealth(false, status)
	}).WithFailure(func(err error) {
		e.reportHealth(false, status)
	}))
}

func (e *Engine) reportHealth(healthy bool, reason string) {
	if !healthy {
		e.logger.Warnf("peer unhealthy: %s", reason)
	}
	e.publish(events.Event{Kind: events.Health, Flag: healthy, Message: reason})
}
