// Package migration serializes chunk migrations across all simulated users.
//
// Moving a chunk is disruptive and is not safe to run concurrently with
// itself, while CRUD traffic from every user stays fully parallel. The
// Coordinator guards this with a single process-wide lock built on an
// atomic compare-and-swap:
//
//	Idle --TryAcquire--> Migrating --Release--> Idle
//
// A user whose migrate operation finds the lock held does nothing and
// returns immediately; the tick still counts.
//
// # Basic Usage
//
//	coord := migration.New()
//	coord.SetEventBus(bus) // optional
//
//	reader := topology.NewReader(st.Catalog())
//	res, err := coord.Run(ctx, "user-3", ns, reader, st, rng)
//	switch {
//	case err != nil:
//	    // planning or moveChunk failed; the lock is already released
//	case res.Skipped:
//	    // another user is migrating
//	default:
//	    fmt.Printf("moved %s to %s\n", res.Move.Chunk.ID, res.Move.To)
//	}
//
// # Failure Handling
//
// Configuration errors from the planner (no chunks, a single shard) are
// returned wrapped and still match topology.ErrMisconfigured. moveChunk
// errors are returned as-is. Neither path leaves the lock held.
package migration
