package audio

import (
	"github.com/gordonklaus/portaudio"

	"github.com/msto63/wake/pkg/core/fault"
)

// DeviceInfo describes an input device
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}

// ListInputDevices returns the devices that can record
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fault.Wrap(err, "failed to initialize PortAudio").WithCode(fault.CodeCaptureFailed)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fault.Wrap(err, "failed to enumerate devices").WithCode(fault.CodeCaptureFailed)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels == 0 {
			continue
		}
		inputs = append(inputs, DeviceInfo{
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefault:         dev.Name == defaultName,
		})
	}
	return inputs, nil
}
