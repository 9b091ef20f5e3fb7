// Package crypto implements the authenticated symmetric encryption used to
// protect every audio frame on the wire: AES-256-GCM with a random 96-bit
// nonce prepended to the ciphertext and a 128-bit tag appended, as specified
// in section 4.1.
package crypto
