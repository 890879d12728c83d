// Package it provides an in-process cluster harness for end-to-end tests:
// real nodes, real handlers and schedulers, connected by a lossy channel
// network instead of stdin/stdout.
package it
