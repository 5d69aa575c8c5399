// Package actions runs operator-triggered show style actions inside a
// playout job.
//
// A show style lists actions by ID, each naming a handler registered with
// the Executor. The handler gets a Context whose mutators only reach the
// current and next PartInstances. Each mutation flags the instance it
// touched; after the handler returns the Executor resyncs continued
// infinites, recomputes expected durations and regenerates the timeline
// only when something was flagged, or takes when the handler asked for it.
//
// A failing handler fails the job and the cache is dropped, so a partly
// applied action is never written.
package actions
