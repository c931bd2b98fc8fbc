//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// noDevices is used where pion/mediadevices drivers are unavailable.
type noDevices struct{}

// NewDevices returns the platform capture API. Without cgo on linux there
// are no capture drivers and every request reports NotFoundError.
func NewDevices() (Devices, error) {
	return noDevices{}, nil
}

func (noDevices) Enumerate() []DeviceInfo { return nil }

func (noDevices) Open(context.Context, webrtc.RTPCodecType) (Source, error) {
	return nil, &NamedError{Name: "NotFoundError", Message: "no capture drivers on this platform"}
}

func (noDevices) OpenDisplay(context.Context) (Source, error) {
	return nil, &NamedError{Name: "NotFoundError", Message: "no screen capture on this platform"}
}
