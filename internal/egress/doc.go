// Package egress implements the transmit pipeline of section 4.5
// (capture -> encode -> encrypt -> wrap -> send) and the keep-alive
// datagram of section 4.9.
package egress
