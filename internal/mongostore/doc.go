// Package mongostore implements store.Store on a real sharded MongoDB
// cluster reached through a mongos router.
//
// Provisioning runs enableSharding and shardCollection with a hashed key.
// Both are idempotent: replies saying the database or collection is already
// sharded count as success, so every simulated user may call
// EnsureShardedCollection concurrently.
//
// Topology is read from the config database:
//
//	config.collections  {_id: "<db>.<coll>", uuid: UUID(...), key: {...}}
//	config.chunks       {uuid | ns, min, max, shard}
//	config.shards       {_id, host}
//
// Chunks are matched by uuid (5.0 and later) or by ns (older catalogs).
// Chunk bounds are passed back to moveChunk untouched as "bounds", which is
// the form that works for hashed shard keys.
package mongostore
