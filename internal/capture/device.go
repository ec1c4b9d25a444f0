package capture

import (
	"strings"

	"github.com/anime-shed/photo-flow-go/pkg/models"
)

// Frame is a still image taken from a live camera, encoded as a data URI.
type Frame struct {
	DataURI string
}

// Empty reports whether the device produced nothing
func (f Frame) Empty() bool {
	return strings.TrimSpace(f.DataURI) == ""
}

// Decode turns the frame into a camera-sourced working image.
func (f Frame) Decode() (models.WorkingImage, error) {
	return FromDataURI(f.DataURI, models.SourceCamera)
}

// Device is the camera adapter: it returns the current frame as a still image,
// or an error for permission and device failures.
type Device interface {
	Screenshot() (Frame, error)
}

// DeviceFunc adapts a function to the Device interface
type DeviceFunc func() (Frame, error)

func (fn DeviceFunc) Screenshot() (Frame, error) {
	return fn()
}

// RemoteDevice is a device whose frame or failure was reported by the browser widget.
type RemoteDevice struct {
	frame Frame
	err   error
}

// PostedFrame wraps a frame the client captured
func PostedFrame(dataURI string) *RemoteDevice {
	return &RemoteDevice{frame: Frame{DataURI: dataURI}}
}

// FailedDevice wraps a device error reported by the client
func FailedDevice(err error) *RemoteDevice {
	return &RemoteDevice{err: err}
}

func (d *RemoteDevice) Screenshot() (Frame, error) {
	if d.err != nil {
		return Frame{}, d.err
	}
	if d.frame.Empty() {
		return Frame{}, ErrEmptyFrame
	}
	return d.frame, nil
}
