// Package ingress implements the receive-side pipeline of section 4.4:
// for each inbound audio datagram, base64 decode, authenticated
// decrypt, voice decode, and enqueue into the destination channel's
// jitter queue. Nothing here ever panics on attacker-controlled input
// (section 7); decode failures are counted and discarded.
package ingress
