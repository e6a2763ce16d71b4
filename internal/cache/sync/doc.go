// Package sync provides the synchronization bridge between the remote
// system of record and the local cache.
//
// Overview
//
// One sync cycle is a watermark-driven pull:
//
//	local cache                     remote source
//	     │  MAX(updated_at) ──► watermark
//	     │                          │
//	     │                  Fetch(watermark)
//	     │                          │
//	     ◄── Upsert × N (response order)
//	     │
//	     └── every write re-pushes live queries
//
// The watermark is the greatest updated_at held locally, or the configured
// epoch while the cache is empty. Records come back with updatedAt at or
// after the watermark, so the record(s) sitting exactly at the watermark are
// fetched again and simply re-applied.
//
// Merge policy
//
// Upsert decides between insert and update on id existence alone. There is
// no version comparison: a remote record older than the stored one still
// overwrites it.
//
// Failure handling
//
//   - Remote failure: the Result carries an error matching
//     remote.ErrTransportFailure and nothing is written.
//   - Upsert failure: the Result carries the error; records already applied
//     in this cycle stay committed. The next cycle picks up from the new
//     watermark.
//   - There is no retry. The daemon's next tick is the retry.
//
// Usage
//
//	engine := sync.New(database, source, nil)
//	res := <-engine.Fetch(ctx)
//	if res.Err != nil {
//	    return res.Err
//	}
//	fmt.Println(res.Value) // upsert_completed
package sync
