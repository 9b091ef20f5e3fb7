package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Packet type values recognized on the wire.
const (
	TypeAudio     = "audio"
	TypeKeepAlive = "KEEP_ALIVE"
)

// MaxDatagramSize is the largest datagram the ingress pipeline will read.
const MaxDatagramSize = 8192

// ErrUnrecognized marks a datagram with a known shape but a type the
// core does not act on (control messages, keep-alives received as
// audio, etc). Callers should discard, not fail, on this error.
var ErrUnrecognized = errors.New("wire: unrecognized envelope type")

// Envelope is the inbound/outbound JSON shape. Data holds base64 of
// nonce || ciphertext || tag for audio packets, and is empty for
// keep-alives.
type Envelope struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id,omitempty"`
	Data      string `json:"data,omitempty"`
}

// AudioFrame is a parsed, validated audio envelope ready for decryption.
type AudioFrame struct {
	ChannelID  string
	Ciphertext []byte
}

// ParseDatagram interprets a raw datagram as UTF-8 JSON and, if it is an
// audio envelope, decodes channel id and base64 payload. Any other
// shape (malformed JSON, missing fields, unknown type, bad base64)
// returns an error and the caller discards the datagram — nothing here
// ever panics on attacker-controlled input.
func ParseDatagram(raw []byte) (*AudioFrame, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("wire: invalid json: %w", err)
	}

	if env.Type != TypeAudio {
		return nil, ErrUnrecognized
	}

	if env.ChannelID == "" {
		return nil, errors.New("wire: missing channel_id")
	}

	if env.Data == "" {
		return nil, errors.New("wire: missing data")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid base64 data: %w", err)
	}

	return &AudioFrame{ChannelID: env.ChannelID, Ciphertext: ciphertext}, nil
}

// EncodeAudio builds the outbound audio envelope for a channel.
func EncodeAudio(channelID string, ciphertext []byte) ([]byte, error) {
	env := Envelope{
		Type:      TypeAudio,
		ChannelID: channelID,
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal audio envelope: %w", err)
	}
	return out, nil
}

// EncodeKeepAlive builds the keep-alive datagram sent every
// keepalive_interval_ms while no microphone transmission is active.
func EncodeKeepAlive() ([]byte, error) {
	out, err := json.Marshal(Envelope{Type: TypeKeepAlive})
	if err != nil {
		return nil, fmt.Errorf("wire: marshal keep-alive: %w", err)
	}
	return out, nil
}
