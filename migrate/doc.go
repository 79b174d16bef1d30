// Package migrate orchestrates catalog migration jobs.
//
// The Controller owns the job state machine and the per-job run loop:
// extract a batch from the source, normalize and embed it, load it into
// the destination, persist progress, then honor any pause or cancel
// request at the batch boundary. Control requests travel over channels to
// the owning run loop; they never interrupt a batch mid-write.
//
// The Planner derives resume checkpoints by inspecting the destination's
// actual contents, since in-memory progress counters are not a source of
// truth after a process restart.
package migrate
