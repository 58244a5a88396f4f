// Package orchestrator drives jobs from the queue to a terminal state.
//
// The orchestrator package provides:
//   - Scheduler: reads a settings snapshot, claims queued jobs with the
//     store's conditional update and runs them through an engine
//   - PostExec: routes each finished run by job type into review,
//     decomposition ingestion, scoring or challenge-board fan-in
//   - Loop: the poll loop that ticks the scheduler on a jittered interval
//     and backs off while a health probe fails
//
// Example usage:
//
//	sched := orchestrator.New(orchestrator.Options{Store: db, Engines: engine.NewSet(cfg), Emitter: em})
//	loop := orchestrator.NewLoop(sched, orchestrator.LoopConfig{Interval: 30 * time.Second, MaxInterval: 5 * time.Minute})
//	err := loop.Run(ctx)
package orchestrator
