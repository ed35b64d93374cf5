// Package metrics collects per-operation latency and outcome statistics for
// a workload run.
//
// Metrics implements workload.Recorder, so it can be handed to every
// simulated user. Each record is counted in the aggregate totals and in the
// statistics of its operation (insert_single_document, find_document, ...).
// Skipped ticks (an empty key cache, a migration already in progress) are
// counted separately and never contribute latency samples.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	c := workload.New(id, st, coord, cfg, workload.WithRecorder(m))
//	// ... run ...
//
//	snap := m.Snapshot()
//	fmt.Printf("Total: %d, RPS: %.2f, P99: %v\n",
//	    snap.TotalRequests, snap.OverallRPS, snap.P99Latency)
//	for _, op := range snap.Ops {
//	    fmt.Println(op.Name, op.Requests, op.Failures)
//	}
//
// # Configuration
//
// Use NewWithConfig to change how many latency samples are kept per
// operation for the P99 estimate:
//
//	m := metrics.NewWithConfig(metrics.Config{MaxLatencySamples: 5000})
//
// # Thread Safety
//
// Aggregate counters are atomic; per-operation statistics are guarded by a
// mutex. All methods are safe for concurrent use.
package metrics
