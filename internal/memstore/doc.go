// Package memstore provides an in-process sharded document store.
//
// The Cluster reproduces the parts of a sharded MongoDB deployment the
// workload touches: hashed sharding on the "id" field, a metadata catalog
// with collections, chunks and shards, and a synchronous moveChunk command.
// It lets the load generator run, and its tests exercise migrations, without
// a real cluster.
//
// # Basic Usage
//
//	c := memstore.New(memstore.DefaultConfig())
//	if err := c.CreateShards(3, "shard"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.StartAll(); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	coll, _, err := c.EnsureShardedCollection(ctx, ns, "id")
//	_ = coll.InsertOne(ctx, doc, store.Majority)
//
// # Chunks
//
// The 64-bit hashed key space is split into Shards*ChunksPerShard
// contiguous ranges, assigned round-robin. moveChunk waits MoveDelay (the
// clone phase) without blocking CRUD traffic, then moves the documents and
// flips ownership under an exclusive lock.
//
// # Thread Safety
//
// All operations are safe for concurrent use.
package memstore
