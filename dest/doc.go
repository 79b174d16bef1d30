// Package dest loads enriched batches into the vector-indexed destination
// store.
//
// Loading is transactional with an all-or-nothing decision: every record
// in a batch is upserted individually, and the transaction commits only if
// the batch's success rate reaches the configured threshold. Records whose
// embedding failed are stored with a null vector so they stay reachable by
// non-vector means and can be re-embedded later.
//
// The package also answers the resume planner's questions by inspecting
// the destination's actual contents, which are the only source of truth
// for a checkpoint after a process restart.
package dest
