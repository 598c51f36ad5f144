package test_utils

import (
	"bytes"
	"encoding/json"
	"fmt"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/validation"
)

// AssertValidEvent validates that an event has the fields every event carries
func AssertValidEvent(e types.Event) error {
	return validation.ValidateEvent(e)
}

// AssertEventListValid validates every event of a delivered batch and that
// the ids follow cursor in strictly increasing order.
func AssertEventListValid(cursor int64, events []types.Event) error {
	return validation.ValidateBatch(cursor, events)
}

// AssertNoHeartbeatLast fails when a batch handed to a caller ends with a
// heartbeat. Heartbeats elsewhere in a batch are legitimate.
func AssertNoHeartbeatLast(events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	if last := events[len(events)-1]; last.IsHeartbeat() {
		return fmt.Errorf("batch ends with heartbeat %d", last.ID)
	}
	return nil
}

// AssertEventIDs validates the ids of events in order
func AssertEventIDs(events []types.Event, expected ...int64) error {
	if len(events) != len(expected) {
		return fmt.Errorf("expected %d events, got %d", len(expected), len(events))
	}
	for i, e := range events {
		if e.ID != expected[i] {
			return fmt.Errorf("event at index %d: expected id %d, got %d", i, expected[i], e.ID)
		}
	}
	return nil
}

// AssertEventMatches validates that an event decodes to the same JSON value
// as the raw object it was generated from.
func AssertEventMatches(expected map[string]any, actual types.Event) error {
	want, err := json.Marshal(expected)
	if err != nil {
		return fmt.Errorf("marshal expected event: %v", err)
	}

	var wantValue, gotValue any
	if err := json.Unmarshal(want, &wantValue); err != nil {
		return fmt.Errorf("decode expected event: %v", err)
	}
	if err := json.Unmarshal(actual.Raw, &gotValue); err != nil {
		return fmt.Errorf("decode actual event: %v", err)
	}

	wantNorm, _ := json.Marshal(wantValue)
	gotNorm, _ := json.Marshal(gotValue)
	if !bytes.Equal(wantNorm, gotNorm) {
		return fmt.Errorf("event %d mismatch:\nexpected %s\ngot      %s", actual.ID, wantNorm, gotNorm)
	}
	return nil
}

// AssertErrorKind validates that err is a client error of the given kind
func AssertErrorKind(err error, kind pkgerrs.Kind) error {
	if err == nil {
		return fmt.Errorf("expected a %s error, got nil", kind)
	}
	if got := pkgerrs.KindOf(err); got != kind {
		return fmt.Errorf("expected a %s error, got %s: %v", kind, got, err)
	}
	return nil
}

// AssertApplicationTag validates that err is an application error whose code
// has the given wire tag. An empty tag expects an error without a code.
func AssertApplicationTag(err error, tag string) error {
	app, ok := pkgerrs.AsApplication(err)
	if !ok {
		return fmt.Errorf("expected an application error, got %v", err)
	}
	if tag == "" {
		if app.Code != nil {
			return fmt.Errorf("expected no code, got %s", app.Code.Tag())
		}
		return nil
	}
	if app.Code == nil {
		return fmt.Errorf("expected code %s, got none (message %q)", tag, app.Message)
	}
	if app.Code.Tag() != tag {
		return fmt.Errorf("expected code %s, got %s", tag, app.Code.Tag())
	}
	return nil
}
