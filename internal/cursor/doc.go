// Package cursor tracks per-peer replication progress. A cursor is the
// number of log entries a node believes a peer already holds; cursors only
// move forward, so applying acknowledgements twice or out of order is safe.
package cursor
