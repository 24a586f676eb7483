// Package model holds the console API's request and response bodies.
package model

import "github.com/Elameen123/Blazers-Image-Analysis-Station/internal/stream"

// StreamStartRequest is the body of POST /v1/stream/start.
type StreamStartRequest struct {
	Source string `json:"source"`
	URL    string `json:"url,omitempty"`
}

// StreamStatusResponse is the response for GET /v1/stream/status.
type StreamStatusResponse struct {
	stream.Status
	CommandChannel bool           `json:"commandChannel"`
	Viewers        map[string]int `json:"viewers"`
}

type ControlRequest struct {
	Var string `json:"var"`
	Val *int   `json:"val"`
}

type RoverCommandRequest struct {
	Command string `json:"command"`
	Value   any    `json:"value"`
}

type MissionLogRequest struct {
	Text string `json:"text"`
}

type DetectionStatusResponse struct {
	Running bool `json:"running"`
}
