// Package gossip implements the anti-entropy scheduler: on a fixed period,
// and whenever new values arrive, it sends every lagging peer the suffix of
// the log that peer has not acknowledged.
//
// Limitations:
// - Fire-and-forget: a tick never waits for propagate_ok; the next tick is
//   the retry.
// - Flat fan-out: every known peer is contacted directly, the topology is
//   not used for multi-hop routing.
package gossip
