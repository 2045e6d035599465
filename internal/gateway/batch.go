package gateway

import (
	"context"
	"sync"
)

// ItemError records one failed item of a batch alongside its identifier.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// BatchResult aggregates a fan-out over independently-fetched items.
// Items holds only successfully processed entries; a failed item appears in
// Errors and never in both lists. PartialSuccess is computed by the
// aggregator, never stored by hand.
type BatchResult[T any] struct {
	Items          []T         `json:"items"`
	Errors         []ItemError `json:"errors,omitempty"`
	PartialSuccess bool        `json:"partialSuccess"`
	NextPageToken  string      `json:"nextPageToken,omitempty"`
	AllLoaded      bool        `json:"allEmailsLoaded"`
}

// ProcessBatch runs fn for every id concurrently and aggregates partial
// success. One item's failure never invalidates the others; its error is
// recorded with the item's identifier instead.
//
// There is no artificial concurrency cap at this layer: these are
// metadata-only fetches, and the attachment pipeline's narrower semaphore
// is the only bounded resource. Results complete in any order; the
// aggregator re-associates them by identifier.
func ProcessBatch[T any](ctx context.Context, ids []string, fn func(ctx context.Context, id string) (T, error)) BatchResult[T] {
	type outcome struct {
		id  string
		val T
		err error
	}

	results := make(chan outcome, len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			val, err := fn(ctx, id)
			results <- outcome{id: id, val: val, err: err}
		}(id)
	}
	wg.Wait()
	close(results)

	var batch BatchResult[T]
	for out := range results {
		if out.err != nil {
			batch.Errors = append(batch.Errors, ItemError{Item: out.id, Error: out.err.Error()})
			continue
		}
		batch.Items = append(batch.Items, out.val)
	}
	batch.PartialSuccess = len(batch.Errors) > 0

	return batch
}
