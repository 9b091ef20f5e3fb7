package sink

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// resolveDevice looks up a PortAudio device by name, or returns the
// platform default input/output device when name is empty.
func resolveDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 {
			return d, nil
		}
		if !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}

	return nil, fmt.Errorf("device %q not found", name)
}
