// Package api defines the JSON request and response types of the bot
// manager's public REST surface. External clients can import this package
// without pulling in server internals.
package api

import "time"

// CreateBotRequest is the body of POST /bots.
type CreateBotRequest struct {
	Platform        string  `json:"platform"`
	NativeMeetingID string  `json:"native_meeting_id"`
	BotName         string  `json:"bot_name"`
	Language        *string `json:"language,omitempty"`
	Task            string  `json:"task,omitempty"`
}

// ReconfigureRequest is the body of PATCH /bots/{platform}/{id}/config.
// Nil fields leave the worker's current value in place.
type ReconfigureRequest struct {
	Language *string `json:"language,omitempty"`
	Task     *string `json:"task,omitempty"`
}

// MeetingConfig mirrors the stored per-meeting options.
type MeetingConfig struct {
	Language *string `json:"language"`
	Task     string  `json:"task"`
	BotName  string  `json:"bot_name"`
}

// MeetingResponse is the public projection of a meeting row.
type MeetingResponse struct {
	MeetingID       string        `json:"meeting_id"`
	UserID          string        `json:"user_id"`
	Platform        string        `json:"platform"`
	NativeMeetingID string        `json:"native_meeting_id"`
	MeetingURL      string        `json:"meeting_url,omitempty"`
	Status          string        `json:"status"`
	BotContainerID  string        `json:"bot_container_id,omitempty"`
	StartTime       *time.Time    `json:"start_time,omitempty"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	Config          MeetingConfig `json:"config"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// MeetingListResponse is the body of GET /meetings.
type MeetingListResponse struct {
	Meetings []MeetingResponse `json:"meetings"`
}

// RunningBotStatus pairs a meeting with its observed container state.
type RunningBotStatus struct {
	MeetingID        string `json:"meeting_id"`
	Platform         string `json:"platform"`
	NativeMeetingID  string `json:"native_meeting_id"`
	Status           string `json:"status"`
	ContainerID      string `json:"container_id,omitempty"`
	ContainerRunning bool   `json:"container_running"`
}

// BotStatusResponse is the body of GET /bots/status.
type BotStatusResponse struct {
	RunningBots []RunningBotStatus `json:"running_bots"`
}

// MessageResponse is a generic acknowledgment body.
type MessageResponse struct {
	Message string `json:"message"`
}
