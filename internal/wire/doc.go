// Package wire implements the datagram envelope described in section 4.2:
// a UTF-8 JSON object carrying a packet type, channel id, and base64 payload.
package wire
