// Package engine drives catalog synchronization between a remote media
// server and the local store.
//
// Overview
//
// The engine package implements the sync pipeline: it pulls scene and
// reference-entity payloads from a remote backend, decides per item whether
// a sync is needed, merges remote data into local rows, and records every
// run in the sync history. Conflict detection and resolution sit on the
// same pipeline so that locally edited rows are never silently clobbered.
//
// Architecture
//
// A run flows through four stages:
//
//	Remote backend (HTTP / bundle)
//	     ├── performers, tags, studios   → reference entities first
//	     └── scenes (paged)              → batches
//	                                           ↓
//	                                    Strategy.ShouldSync
//	                                      (full / incremental / smart)
//	                                           ↓
//	                                    Resolver (manual edits only)
//	                                           ↓
//	                                    store.BulkUpsertScenes
//	                                      (per-row savepoints)
//
// Reference entities are synced before scenes within a run so that scene
// rows never hit a missing foreign key. Scenes that arrive with studio,
// performer, or tag references the entity pass has not seen yet get
// placeholder rows created on the fly.
//
// Usage
//
// Basic full sync:
//
//	st, err := store.Open(".reelsync/catalog.db", store.Options{})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	client, err := remote.Connect("http://media-server:9999", remote.Options{})
//	if err != nil {
//	    return err
//	}
//
//	eng := engine.New(st, client, engine.DefaultConfig(), nil)
//	result, err := eng.SyncAll(ctx, "", false)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Summary())
//
// Incremental sync only touches rows the remote changed since the last
// completed run:
//
//	result, err := eng.SyncIncremental(ctx, "")
//
// Single scene by id:
//
//	result, err := eng.SyncSceneByID(ctx, "scene-42")
//
// Error Handling
//
// A run is resilient to individual item failures:
//
//   - Payloads that fail validation or persistence are logged, counted as
//     failed, and the run moves on
//   - Network errors from the remote abort the run with a FAILED result
//   - Context cancellation stops the run at the next batch boundary and is
//     reported as a failed run, with completed batches already persisted
//
// Concurrency
//
// One Engine drives one run at a time. Progress fan-out is safe for
// concurrent consumers:
//
//   - Tracker sinks are invoked outside the engine's hot path
//   - The store serializes writes through SQLite WAL mode
package engine
