package models

// DataURIRequest carries an encoded image (upload fallback or camera frame)
type DataURIRequest struct {
	DataURI string `json:"data_uri" binding:"required"`
}

// CameraErrorRequest reports a device or permission failure from the capture widget
type CameraErrorRequest struct {
	Reason string `json:"reason"`
}

// SessionResponse is returned whenever a session's state is read or changed
type SessionResponse struct {
	ID   string      `json:"id"`
	View interface{} `json:"view"`
}

// UploadResponse pairs the validation outcome with the resulting view
type UploadResponse struct {
	SessionResponse
	Validation ValidationOutcome `json:"validation"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
}
