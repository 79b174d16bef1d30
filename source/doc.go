// Package source extracts catalog rows from the relational source store.
//
// Extraction is keyset paginated: batches are read strictly in increasing
// key order with a "key > checkpoint" predicate, which is what makes the
// resume mechanism correct. The reader never writes.
package source
