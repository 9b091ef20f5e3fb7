// Package sink wraps PortAudio to provide the single stereo output
// device the mixer writes to (section 4.8) and the mono capture
// device the transmit pipeline reads from (section 4.5).
//
// The caller is responsible for calling portaudio.Initialize() once
// at process start before opening any device, and portaudio.Terminate()
// at shutdown; this package assumes the library is already initialized.
package sink
