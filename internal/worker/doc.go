// Package worker runs a population of long-lived simulated users.
//
// The Pool starts Users goroutines, spawning them at SpawnRate users per
// second, and keeps each one running until the pool's context ends. When a
// user returns an error classified as fatal, the pool records the first such
// error and cancels every other user.
//
// # Basic Usage
//
//	pool := worker.NewPool(worker.PoolConfig{Users: 10, SpawnRate: 5},
//	    func(i int) (worker.User, error) {
//	        return workload.New(fmt.Sprintf("user-%d", i+1), st, coord, cfg), nil
//	    },
//	    worker.WithFatal(workload.IsFatal),
//	)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	if err := pool.Wait(); err != nil {
//	    // a user hit a fatal configuration error
//	}
//
// # Graceful Shutdown
//
// Stop() cancels every user and waits for all of them to return. The context
// passed to Start() bounds the whole run.
package worker
