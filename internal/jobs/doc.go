// Package jobs implements the per-resource job queues that feed playout
// dispatch loops.
//
// A Scheduler owns one queue per name (for example "playout:studio-a").
// Each queue has a high and a low priority tier, debounce timers, a single
// long-poll waiter and a registry of dequeued jobs awaiting completion.
//
// Producers call Enqueue and await the returned Handle. A dispatch loop
// calls WaitForNext, Dequeue and finally Complete. Enqueue never blocks.
//
// Debounced enqueues with the same name and deep-equal payload coalesce
// into one entry: its not-before time moves to the latest requested
// deadline, its priority only ever goes up, and every coalesced caller is
// resolved by the single execution.
package jobs
