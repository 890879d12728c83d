// Package admin runs the optional gRPC side listener of a node. It serves
// the standard health service, which reports NOT_SERVING until the node has
// completed its handshake, and gRPC reflection for grpcurl.
package admin
