package flow

import "errors"

var (
	// ErrNoPreview is returned by ConfirmPreview when there is nothing to confirm
	ErrNoPreview = errors.New("no preview image")

	// ErrOverlayNotAllowed is returned when an overlay intent arrives outside the home stage
	ErrOverlayNotAllowed = errors.New("overlays are only available on the home stage")

	// ErrCameraClosed is returned for capture events while the camera overlay is closed
	ErrCameraClosed = errors.New("camera overlay is not open")

	// ErrCameraUnavailable is returned for capture attempts after a device failure
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrClosed is returned once the controller has been shut down
	ErrClosed = errors.New("flow controller closed")
)

// CameraUnavailableMessage is shown inside the capture overlay after a device failure
const CameraUnavailableMessage = "Unable to access camera. Please check permissions."
