// Package worker runs the dispatch side of the outbox pipeline: the
// claim-process loop, the stale-lock reclaimer, the enqueue-due scheduler,
// and the ops registry heartbeat. Workers coordinate exclusively through
// database row claims; any number of processes can run concurrently.
package worker
