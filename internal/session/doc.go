// Package session owns the datagram socket, the set of active
// channels, and the lifecycle of the receiver, mixer, transmitter, and
// keep-alive goroutines (sections 4.6, 4.7, 5, 6). It is the only
// package that imports ingress, egress, mixer, sink, codec, crypto,
// wire, and jitter together, wiring them into one running client.
package session
