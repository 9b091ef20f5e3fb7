// Package server provides the HTTP control surface over a running
// session.Session: health, channel roster and per-channel stats,
// add/remove/set_volume/set_pan, begin/end transmit, sanitized
// configuration, and a Prometheus scrape endpoint. The datagram
// socket itself is owned directly by session.Session (section 3);
// this package never touches it.
package server 