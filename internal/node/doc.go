// Package node implements a broadcast node: the pure protocol handler that
// turns one inbound envelope into a state change plus an optional reply, and
// the runtime that performs the init handshake, feeds envelopes to the
// handler and drives the gossip scheduler.
package node
