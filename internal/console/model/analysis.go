package model

import "github.com/Elameen123/Blazers-Image-Analysis-Station/internal/datastore"

// ImageRequest selects a stored sample, or the live frame when CurrentFrame
// is set. Uploaded files use multipart field "image" instead.
type ImageRequest struct {
	Sample       string `json:"sample,omitempty"`
	CurrentFrame bool   `json:"currentFrame,omitempty"`
}

type ModelRequest struct {
	Model string `json:"model"`
}

type CaptureRequest struct {
	Label string  `json:"label"`
	Depth float64 `json:"depth"`
}

// Sample is a stored sample with its image resolved to a download URL.
type Sample struct {
	datastore.SampleRecord
	Key      string `json:"key"`
	ImageURL string `json:"imageUrl,omitempty"`
	Analyzed bool   `json:"analyzed"`
}
