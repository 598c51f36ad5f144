package internal

import (
	"context"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

// BatchFunc fetches the next batch of events.
type BatchFunc func(context.Context) ([]types.Event, error)

// EventIterator flattens successive event batches into single events.
// An event queue never runs dry, so the iterator only stops on error.
type EventIterator struct {
	ctx       context.Context
	fetch     BatchFunc
	buffer    []types.Event
	bufferIdx int
	batches   int
	err       error
}

// NewEventIterator creates a new event iterator.
func NewEventIterator(ctx context.Context, fetch BatchFunc) *EventIterator {
	return &EventIterator{
		ctx:   ctx,
		fetch: fetch,
	}
}

// Next returns the next event, polling for a new batch when the buffer is
// exhausted. Empty batches are polled through. Once an error is returned,
// every later call returns the same error without polling.
func (it *EventIterator) Next() (types.Event, error) {
	if it.err != nil {
		return types.Event{}, it.err
	}

	for it.bufferIdx >= len(it.buffer) {
		if err := it.ctx.Err(); err != nil {
			it.err = pkgerrs.NewTransport(err)
			return types.Event{}, it.err
		}

		events, err := it.fetch(it.ctx)
		if err != nil {
			it.err = err
			return types.Event{}, err
		}

		it.buffer = events
		it.bufferIdx = 0
		it.batches++
	}

	event := it.buffer[it.bufferIdx]
	it.bufferIdx++
	return event, nil
}

// Err returns the error that stopped the iterator, if any.
func (it *EventIterator) Err() error {
	return it.err
}

// Batches returns how many batches have been fetched.
func (it *EventIterator) Batches() int {
	return it.batches
}

// Buffered returns the number of events fetched but not yet returned.
func (it *EventIterator) Buffered() int {
	return len(it.buffer) - it.bufferIdx
}
