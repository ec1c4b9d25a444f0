package models

import "time"

// ImageSource identifies which capture adapter produced an image
type ImageSource string

const (
	SourceUpload ImageSource = "upload"
	SourceCamera ImageSource = "camera"
)

// WorkingImage is the in-memory payload passed forward for analysis.
// DataURI is the authoritative encoded form; the other fields are derived from it.
type WorkingImage struct {
	DataURI  string      `json:"data_uri"`
	MIMEType string      `json:"mime_type"`
	Size     int64       `json:"size"`
	Width    int         `json:"width,omitempty"`
	Height   int         `json:"height,omitempty"`
	Source   ImageSource `json:"source"`
}

// RemoteImageRef is the durable reference returned by the storage collaborator
type RemoteImageRef struct {
	URL       string    `json:"url"`
	PublicID  string    `json:"public_id,omitempty"`
	Format    string    `json:"format,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Provider  string    `json:"provider"`
}
