package api

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrUnexpectedShape indicates a peer payload that parsed as JSON but did not
// have the structure the endpoint documents.
var ErrUnexpectedShape = errors.New("unexpected payload shape")

// members holds the JSON members of an object that have no typed field, so
// that a decoded value re-encodes without dropping peer settings.
type members map[string]json.RawMessage

// unknownMembers decodes data as an object and removes the named keys.
func unknownMembers(data []byte, known ...string) (members, error) {
	var all members
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, errors.Wrap(ErrUnexpectedShape, err.Error())
	}
	for _, key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// withMembers merges extra members into an encoded object. Typed fields win
// over stale copies of the same key.
func withMembers(typed []byte, extra members) ([]byte, error) {
	if len(extra) == 0 {
		return typed, nil
	}
	var all members
	if err := json.Unmarshal(typed, &all); err != nil {
		return nil, errors.Wrap(err, "unable to merge members")
	}
	for key, value := range extra {
		if _, ok := all[key]; !ok {
			all[key] = value
		}
	}
	return json.Marshal(all)
}

// asShapeError classifies a decode failure. Type mismatches are reported as
// ErrUnexpectedShape, everything else as a parse failure.
func asShapeError(err error) error {
	if err == nil || errors.Is(err, ErrUnexpectedShape) {
		return err
	}
	var typeError *json.UnmarshalTypeError
	if errors.As(err, &typeError) {
		return errors.Wrap(ErrUnexpectedShape, err.Error())
	}
	return errors.Wrap(err, "unable to parse payload")
}
