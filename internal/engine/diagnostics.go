package engine

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
	"github.com/Fybrk/syncpair/internal/scheduler"
)

// Sink stores assembled diagnostics documents.
type Sink interface {
	Persist(document []byte) error
}

// CollectDiagnostics merges the peer's system log with the discovery errors
// from its status report and hands the document to every sink. Sink failures
// are logged. done, which may be nil, receives the document.
func (e *Engine) CollectDiagnostics(done func(document []byte, err error)) {
	finish := func(document []byte, err error) {
		if done != nil {
			done(document, err)
		}
	}

	target := e.url(api.PathLog)
	e.submit(scheduler.Get(target, func(response *scheduler.Response) {
		if !response.OK() {
			err := errors.Errorf("log query failed with status %d", response.StatusCode)
			e.globalError(target, err.Error())
			finish(nil, err)
			return
		}
		document := api.LogDocument(response.Body)
		e.attachDiscoveryErrors(document, func() {
			data, err := json.MarshalIndent(document, "", "  ")
			if err != nil {
				finish(nil, errors.Wrap(err, "unable to encode diagnostics"))
				return
			}
			e.persistDiagnostics(data)
			finish(data, nil)
		})
	}).WithFailure(func(err error) {
		finish(nil, err)
	}))
}

func (e *Engine) attachDiscoveryErrors(document map[string]json.RawMessage, then func()) {
	document["discoveryErrors"] = json.RawMessage("{}")
	e.submit(scheduler.Get(e.url(api.PathStatus), func(response *scheduler.Response) {
		if response.OK() {
			if status, err := api.DecodeSystemStatus(response.Body); err == nil {
				if text := status.DiscoveryErrorText(); text != "" {
					document["discoveryErrors"] = json.RawMessage(text)
				}
			}
		}
		then()
	}).WithFailure(func(error) {
		then()
	}))
}

func (e *Engine) persistDiagnostics(data []byte) {
	stored := 0
	for _, sink := range e.sinks {
		if err := sink.Persist(data); err != nil {
			e.logger.Warn(errors.Wrap(err, "unable to persist diagnostics"))
			continue
		}
		stored++
	}
	e.publish(events.Event{
		Kind:    events.RequestProcessed,
		Message: fmt.Sprintf("diagnostics collected (%d bytes, %d sinks)", len(data), stored),
	})
}
