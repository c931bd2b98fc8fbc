package media

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// DeviceErrorKind classifies why local capture failed.
type DeviceErrorKind int

const (
	Unknown DeviceErrorKind = iota
	NoDeviceFound
	PermissionDenied
	DeviceBusy
)

func (k DeviceErrorKind) String() string {
	switch k {
	case NoDeviceFound:
		return "NoDeviceFound"
	case PermissionDenied:
		return "PermissionDenied"
	case DeviceBusy:
		return "DeviceBusy"
	default:
		return "Unknown"
	}
}

var (
	ErrScreenShareCancelled = errors.New("screen share cancelled")
	ErrTrackEnded           = errors.New("track ended")
)

// DeviceError is the single error type Acquire returns for capture failures.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return "media: " + e.Kind.String()
	}
	return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Message is the remediation text shown to the user.
func (e *DeviceError) Message() string {
	switch e.Kind {
	case PermissionDenied:
		return "Camera and microphone access was denied. Allow access in your browser permissions and try again."
	case DeviceBusy:
		return "Your camera or microphone is already in use. Close other applications using it and try again."
	case NoDeviceFound:
		return "No camera or microphone was found. Connect a device and try again."
	default:
		if e.Err != nil {
			return "Could not access media devices: " + e.Err.Error()
		}
		return "Could not access media devices."
	}
}

// NamedError carries a device error name as reported by the platform, e.g.
// NotAllowedError.
type NamedError struct {
	Name    string
	Message string
}

func (e *NamedError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

var kindByName = map[string]DeviceErrorKind{
	"NotFoundError":         NoDeviceFound,
	"DevicesNotFoundError":  NoDeviceFound,
	"OverconstrainedError":  NoDeviceFound,
	"NotAllowedError":       PermissionDenied,
	"PermissionDeniedError": PermissionDenied,
	"SecurityError":         PermissionDenied,
	"NotReadableError":      DeviceBusy,
	"TrackStartError":       DeviceBusy,
	"AbortError":            DeviceBusy,
}

// Classify maps a capture error to a DeviceError. Errors that already are
// a *DeviceError are returned unchanged.
func Classify(err error) *DeviceError {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	var ne *NamedError
	if errors.As(err, &ne) {
		if kind, ok := kindByName[ne.Name]; ok {
			return &DeviceError{Kind: kind, Err: err}
		}
		return &DeviceError{Kind: Unknown, Err: err}
	}
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENOENT):
		return &DeviceError{Kind: NoDeviceFound, Err: err}
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return &DeviceError{Kind: PermissionDenied, Err: err}
	case errors.Is(err, syscall.EBUSY):
		return &DeviceError{Kind: DeviceBusy, Err: err}
	}

	// mediadevices reports driver selection failures as plain strings.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "failed to find"), strings.Contains(msg, "no such device"):
		return &DeviceError{Kind: NoDeviceFound, Err: err}
	case strings.Contains(msg, "permission denied"):
		return &DeviceError{Kind: PermissionDenied, Err: err}
	case strings.Contains(msg, "device or resource busy"):
		return &DeviceError{Kind: DeviceBusy, Err: err}
	}
	return &DeviceError{Kind: Unknown, Err: err}
}
