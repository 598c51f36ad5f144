package gzaw

import (
	"context"
	"iter"

	"github.com/jamesprial/go-zulip-api-wrapper/internal"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

// All returns an iterator over the queue's events, one at a time, across as
// many polls as it takes. Heartbeat suppression and cursor tracking are the
// same as for Events.
//
// Iteration ends when the consumer stops or after the first error has been
// yielded. Nothing is retried; to resume after an error, call All again on the
// same queue. Events of a batch not yet yielded when the consumer stops are
// dropped, since the cursor has already moved past them.
//
// Example:
//
//	for event, err := range queue.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(event.Type)
//	}
func (q *Queue) All(ctx context.Context) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		it := internal.NewEventIterator(ctx, q.Events)
		for {
			event, err := it.Next()
			if err != nil {
				yield(types.Event{}, err)
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}
