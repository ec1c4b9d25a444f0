// Package view renders flow snapshots into per-stage view models for the client.
package view

import (
	"time"

	"github.com/anime-shed/photo-flow-go/pkg/models"
	"github.com/anime-shed/photo-flow-go/pkg/validation"
)

// Intent names a user action the client may offer in the current view
type Intent string

const (
	IntentUploadPhoto    Intent = "uploadPhoto"
	IntentUseCamera      Intent = "useCamera"
	IntentCaptureFrame   Intent = "captureFrame"
	IntentCloseCamera    Intent = "closeCamera"
	IntentConfirmPreview Intent = "confirmPreview"
	IntentCancelPreview  Intent = "cancelPreview"
	IntentRetake         Intent = "retake"
	IntentTryAgain       Intent = "tryAgain"
)

// CaptionInterval is how long each loading caption stays on screen
const CaptionInterval = 2 * time.Second

var loadingCaptions = []string{
	"Analyzing photo...",
	"Processing features...",
	"Calculating results...",
	"Almost there...",
}

// Timings are the stage delays the controller runs with
type Timings struct {
	Loading      time.Duration
	Confirmation time.Duration
}

// View is what the client draws for one snapshot
type View struct {
	Stage        models.Stage        `json:"stage"`
	SessionToken uint64              `json:"session_token"`
	UploadStatus models.UploadStatus `json:"upload_status"`
	Intents      []Intent            `json:"intents"`
	Home         *HomePage           `json:"home,omitempty"`
	Camera       *CameraOverlay      `json:"camera,omitempty"`
	Preview      *PreviewOverlay     `json:"preview,omitempty"`
	Loading      *LoadingPage        `json:"loading,omitempty"`
	Confirmation *ConfirmationPage   `json:"confirmation,omitempty"`
	Result       *ResultPage         `json:"result,omitempty"`
}

type HomePage struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Hint     string   `json:"hint"`
	Accept   []string `json:"accept"`
}

type CameraOverlay struct {
	Title          string   `json:"title"`
	Unavailable    bool     `json:"unavailable"`
	Message        string   `json:"message,omitempty"`
	CaptureEnabled bool     `json:"capture_enabled"`
	Intents        []Intent `json:"intents"`
}

type PreviewOverlay struct {
	ImageSrc string             `json:"image_src"`
	Source   models.ImageSource `json:"source"`
	Hint     string             `json:"hint"`
	Intents  []Intent           `json:"intents"`
}

type LoadingPage struct {
	Caption     string  `json:"caption"`
	Subtitle    string  `json:"subtitle"`
	Progress    float64 `json:"progress"`
	RemainingMs int64   `json:"remaining_ms"`
}

type ConfirmationPage struct {
	Headline    string `json:"headline"`
	RemainingMs int64  `json:"remaining_ms"`
}

type ResultPage struct {
	Headline      string   `json:"headline"`
	Percentage    int      `json:"percentage"`
	Confidence    string   `json:"confidence"`
	ChartEndAngle float64  `json:"chart_end_angle"`
	Message       string   `json:"message"`
	Insights      []string `json:"insights"`
	ImageSrc      string   `json:"image_src,omitempty"`
}

// Render builds the view for a snapshot at the given instant
func Render(state models.FlowState, now time.Time, timings Timings) View {
	v := View{
		Stage:        state.Stage,
		SessionToken: state.SessionToken,
		UploadStatus: state.UploadStatus,
		Intents:      []Intent{},
	}
	elapsed := now.Sub(state.StageEnteredAt)

	switch state.Stage {
	case models.StageHome:
		renderHome(&v, state)
	case models.StageLoading:
		v.Loading = renderLoading(elapsed, timings.Loading)
	case models.StageConfirmation:
		v.Confirmation = &ConfirmationPage{
			Headline:    "Analysis Complete!",
			RemainingMs: remaining(elapsed, timings.Confirmation).Milliseconds(),
		}
	case models.StageResult:
		v.Result = renderResult(state)
		v.Intents = []Intent{IntentTryAgain}
	}
	return v
}

func renderHome(v *View, state models.FlowState) {
	v.Home = &HomePage{
		Title:    "Welcome to Gaydar",
		Subtitle: "An app that determines if you are gay or not",
		Hint:     "Upload a photo or use your camera to get started",
		Accept:   validation.SupportedImageTypes,
	}

	switch {
	case state.PreviewOpen && state.PreviewImage != nil:
		v.Preview = &PreviewOverlay{
			ImageSrc: state.PreviewImage.DataURI,
			Source:   state.PreviewImage.Source,
			Hint:     "Review your image before submitting for analysis",
			Intents:  []Intent{IntentRetake, IntentConfirmPreview, IntentCancelPreview},
		}
		v.Intents = v.Preview.Intents
	case state.CameraOpen:
		v.Camera = &CameraOverlay{
			Title:          "Capture Photo",
			Unavailable:    state.CameraError != "",
			Message:        state.CameraError,
			CaptureEnabled: state.CameraError == "",
			Intents:        []Intent{IntentCloseCamera},
		}
		if v.Camera.CaptureEnabled {
			v.Camera.Intents = append(v.Camera.Intents, IntentCaptureFrame)
		}
		v.Intents = v.Camera.Intents
	default:
		v.Intents = []Intent{IntentUploadPhoto, IntentUseCamera}
	}
}

func renderLoading(elapsed, total time.Duration) *LoadingPage {
	return &LoadingPage{
		Caption:     LoadingCaption(elapsed),
		Subtitle:    "Please wait while we analyze your photo",
		Progress:    Progress(elapsed, total),
		RemainingMs: remaining(elapsed, total).Milliseconds(),
	}
}

// LoadingCaption rotates through the loading captions every CaptionInterval
func LoadingCaption(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	idx := int(elapsed/CaptionInterval) % len(loadingCaptions)
	return loadingCaptions[idx]
}

// Progress is the fraction of the loading stage already spent, clamped to [0,1]
func Progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	p := float64(elapsed) / float64(total)
	return min(max(p, 0), 1)
}

func remaining(elapsed, total time.Duration) time.Duration {
	return max(total-elapsed, 0)
}

func renderResult(state models.FlowState) *ResultPage {
	page := &ResultPage{
		Headline: "Analysis Complete!",
		ImageSrc: ImageSource(state),
	}
	if state.Result == nil {
		return page
	}

	pct := state.Result.Percentage
	page.Percentage = pct
	page.Confidence = state.Result.ConfidenceLabel
	page.ChartEndAngle = ChartEndAngle(pct)
	page.Message, page.Insights = Tier(pct)
	return page
}

// ChartEndAngle is where the radial chart stops, starting from 90 degrees
func ChartEndAngle(percentage int) float64 {
	return 90 + float64(percentage)*3.6
}

// Tier picks the result message and insights for a percentage
func Tier(percentage int) (string, []string) {
	switch {
	case percentage > 70:
		return "Sheeeesh confirmed badiiingg! 🌈", []string{
			"High confidence level detected",
			"Strong bakla energy sensed",
			"Results indicate 85% bading accuracy",
		}
	case percentage > 40:
		return "Muntikan nang maging bading! ✨", []string{
			"Moderate signals detected",
			"Mixed bakla patterns identified",
			"Results indicate 72% bading accuracy",
		}
	default:
		return "Straight pero pwede pang bumaluktot~ 📏", []string{
			"Low confidence level detected",
			"Straight energy patterns sensed",
			"Results indicate 78% bading accuracy",
		}
	}
}

// ImageSource prefers the locally held image and falls back to the remote copy
func ImageSource(state models.FlowState) string {
	if state.WorkingImage != nil && state.WorkingImage.DataURI != "" {
		return state.WorkingImage.DataURI
	}
	if state.RemoteRef != nil {
		return state.RemoteRef.URL
	}
	return ""
}
