// Package daemon implements the statsite ingress pipeline: protocol
// parsing over partial byte streams, the per-epoch metrics table, and the
// double-buffered flush protocol that streams retired tables to a child
// process.
package daemon
