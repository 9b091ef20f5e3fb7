// Package codec adapts the Opus codec to the fixed init/encode/decode/close
// contract the rest of the system expects, per section 2 ("Voice Codec
// Adapter ... consumed as a black box"). It never concerns itself with the
// wire, crypto, or mixer layers.
package codec
