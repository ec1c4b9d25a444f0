package models

import "time"

// Stage is the primary phase of the user-facing flow.
type Stage string

const (
	StageHome         Stage = "home"
	StageLoading      Stage = "loading"
	StageConfirmation Stage = "confirmation"
	StageResult       Stage = "result"
)

// HoldsImage reports whether a working image must exist in this stage
func (s Stage) HoldsImage() bool {
	return s == StageLoading || s == StageConfirmation || s == StageResult
}

// UploadStatus tracks the background upload of the current session
type UploadStatus string

const (
	UploadIdle      UploadStatus = "idle"
	UploadPending   UploadStatus = "pending"
	UploadSucceeded UploadStatus = "succeeded"
	UploadFailed    UploadStatus = "failed"
	UploadSkipped   UploadStatus = "skipped"
)

// FlowState is an immutable snapshot of a flow controller.
type FlowState struct {
	SessionToken   uint64          `json:"session_token"`
	Stage          Stage           `json:"stage"`
	StageEnteredAt time.Time       `json:"stage_entered_at"`
	CameraOpen     bool            `json:"camera_open"`
	CameraError    string          `json:"camera_error,omitempty"`
	PreviewOpen    bool            `json:"preview_open"`
	PreviewImage   *WorkingImage   `json:"preview_image,omitempty"`
	WorkingImage   *WorkingImage   `json:"working_image,omitempty"`
	RemoteRef      *RemoteImageRef `json:"remote_ref,omitempty"`
	Result         *AnalysisResult `json:"result,omitempty"`
	UploadStatus   UploadStatus    `json:"upload_status"`
}
