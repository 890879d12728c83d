// Package storage holds a node's authoritative in-memory state: the
// de-duplicated value log, the per-peer replication cursors and the
// outbound message id counter. All of it sits behind one mutex so the
// inbound handler and the gossip scheduler never see a torn view.
package storage
