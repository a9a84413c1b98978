package engine

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fybrk/syncpair/internal/api"
	"github.com/Fybrk/syncpair/internal/events"
)

func collect(t *testing.T, f *fixture) map[string]json.RawMessage {
	t.Helper()
	var document []byte
	var failure error
	f.engine.CollectDiagnostics(func(data []byte, err error) {
		document, failure = data, err
	})
	f.settle(t)
	require.NoError(t, failure)

	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(document, &parsed))
	return parsed
}

func TestDiagnosticsMergeDiscoveryErrors(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, Options{}, sink)
	f.peer.Set(api.PathStatus, `{"myID":"LOCAL","discoveryErrors":{"global@https://discovery":"timeout"}}`)

	document := collect(t, f)

	assert.Contains(t, document, "messages")
	assert.JSONEq(t, `{"global@https://discovery":"timeout"}`, string(document["discoveryErrors"]))
	require.Len(t, sink.documents, 1)
	assert.Len(t, ofKind(f.drainEvents(), events.RequestProcessed), 1)
}

func TestDiagnosticsWithoutDiscoveryErrors(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Fail(api.PathStatus, 500)

	document := collect(t, f)
	assert.JSONEq(t, `{}`, string(document["discoveryErrors"]))
}

func TestDiagnosticsWrapPlainLog(t *testing.T) {
	f := newFixture(t, Options{})
	f.peer.Set(api.PathLog, `plain text log`)

	document := collect(t, f)

	var log string
	require.NoError(t, json.Unmarshal(document["log"], &log))
	assert.Equal(t, "plain text log", log)
}

func TestDiagnosticsSinkFailure(t *testing.T) {
	broken := &recordingSink{err: errors.New("disk full")}
	working := &recordingSink{}
	f := newFixture(t, Options{}, broken, working)

	collect(t, f)

	assert.Empty(t, broken.documents)
	assert.Len(t, working.documents, 1)
	processed := ofKind(f.drainEvents(), events.RequestProcessed)
	require.Len(t, processed, 1)
	assert.Contains(t, processed[0].Message, "1 sinks")
}

func TestDiagnosticsLogFailure(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, Options{}, sink)
	f.peer.Fail(api.PathLog, 403)

	var failure error
	f.engine.CollectDiagnostics(func(_ []byte, err error) { failure = err })
	f.settle(t)

	assert.Error(t, failure)
	assert.Empty(t, sink.documents)
	assert.Empty(t, f.peer.Requests("GET", api.PathStatus))
}
