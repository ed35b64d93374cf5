// Package workload implements the simulated user that drives mixed CRUD and
// chunk migration traffic against a sharded collection.
//
// Each Client owns a bounded key cache fed by its single-document inserts.
// On every tick it picks one operation from the shared, immutable
// catalog.Catalog by weight and executes it:
//
//   - insert_single_document: one document, majority write concern, id cached
//   - find_document: point lookup of a cached id
//   - update_document: sets "updated" on a cached id, never upserts
//   - insert_documents_bulk: a batch with majority write concern, ids not cached
//   - migrate_chunk: one chunk to another shard, serialized by migration.Coordinator
//
// Find and update are skipped without touching the store until the first
// insert succeeds. A migrate tick that finds another migration running is
// skipped as well.
//
// # Basic Usage
//
//	coord := migration.New()
//	cfg := workload.DefaultConfig()
//
//	c := workload.New("user-1", st, coord, cfg, workload.WithRecorder(m))
//	if err := c.OnStart(ctx); err != nil {
//	    return err
//	}
//	err := c.Run(ctx) // until ctx is done, or a fatal configuration error
//
// # Errors
//
// Store errors are wrapped with the operation name, reported through the
// Recorder and never retried. IsFatal reports configuration errors (zero
// total weight, no chunks, a single shard) that abort the run.
package workload
