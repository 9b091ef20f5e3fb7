// Package jitter implements the bounded, per-channel FIFO of decoded PCM
// frames described in section 3: one producer (the ingress pipeline), one
// consumer (the mixer), capacity MAX_QUEUE_FRAMES, oldest-drop on overflow.
package jitter
