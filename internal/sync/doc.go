// Package sync reconciles a local notebook backup with the remote database.
//
// Overview
//
// A run loads the remote index once, scans the backup, plans each notebook
// and executes the plans on a bounded worker pool:
//
//	Backup root ──► notebook.Reader ──► plan.Plan ◄── index.Index
//	                                        │
//	                                        ▼
//	                                    Executor ──► render, ocr, archive,
//	                                        │        remote.Client
//	                                        ▼
//	                                     Summary
//
// Usage
//
//	exec := sync.NewExecutor(sync.ExecutorConfig{
//	    Client:     client,
//	    Renderer:   render.New(render.Config{}, logger),
//	    Recognizer: recognizer,
//	    Archive:    store,
//	    Policy:     policy,
//	    Logger:     logger,
//	})
//	orch := sync.NewOrchestrator(notebook.NewReader(root, logger), client, exec, policy, logger)
//	summary, err := orch.Run(ctx, sync.Options{Workers: 4})
//
// Error Handling
//
// Classify is the only place adapter errors are interpreted. Everything it
// returns is a *types.SyncError whose kind drives the retry policy:
//
//   - transient errors are retried with backoff, then reported
//   - auth and validation errors are reported at once
//   - local input errors skip the notebook
//
// A notebook failure never stops the run. Run itself fails only when the
// remote index cannot be loaded or the backup root cannot be read.
//
// Concurrency
//
// The index is read-only after loading and shared by all workers. The
// summary accumulator is the only shared mutable state and is guarded by a
// mutex. Cancelling the run context stops dispatch; notebooks already being
// written finish under a context detached from the cancellation.
package sync
