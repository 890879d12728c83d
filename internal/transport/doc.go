// Package transport moves envelopes in and out of a node. Line is the
// production transport: one JSON envelope per line over a reader/writer
// pair (stdin/stdout). Network is an in-process channel transport used by
// tests; it can drop, duplicate and block deliveries.
package transport
