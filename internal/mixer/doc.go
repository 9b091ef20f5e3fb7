// Package mixer implements the fixed-rate software mixer: per-channel
// jitter-gate and accumulation, volume/pan routing, a whole-frame peak
// limiter, and blocking delivery to the output sink. This is the hardest
// subsystem in the system (section 4.3) and the one most directly grounded
// in the debugging history the spec preserves (re-gating pauses, partial
// decoder frames, single vs. multiple output devices, peak limiting).
package mixer
