// Package botcommon holds the shared domain types for the bot manager:
// supported conferencing platforms, their join-URL rules, and per-meeting
// configuration.
package botcommon

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform identifies a supported conferencing platform.
type Platform string

const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformZoom       Platform = "zoom"
	PlatformTeams      Platform = "teams"
)

// Platforms returns every supported platform.
func Platforms() []Platform {
	return []Platform{PlatformGoogleMeet, PlatformZoom, PlatformTeams}
}

// IsValid reports whether p is a member of the supported platform set.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformGoogleMeet, PlatformZoom, PlatformTeams:
		return true
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// ConstructMeetingURL builds the join URL for a platform-native meeting id.
// Returns an error when the id is empty or would not produce a well-formed URL.
func (p Platform) ConstructMeetingURL(nativeMeetingID string) (string, error) {
	id := strings.TrimSpace(nativeMeetingID)
	if id == "" {
		return "", fmt.Errorf("empty native meeting id")
	}
	if strings.ContainsAny(id, " \t\n") {
		return "", fmt.Errorf("native meeting id contains whitespace")
	}
	var raw string
	switch p {
	case PlatformGoogleMeet:
		raw = "https://meet.google.com/" + id
	case PlatformZoom:
		raw = "https://zoom.us/j/" + id
	case PlatformTeams:
		raw = "https://teams.microsoft.com/l/meetup-join/" + url.PathEscape(id)
	default:
		return "", fmt.Errorf("unsupported platform: %s", p)
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid meeting url for %s/%s: %w", p, id, err)
	}
	return raw, nil
}

// Task selects what the transcription pipeline does with the captured audio.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// IsValid reports whether t is a recognized task.
func (t Task) IsValid() bool {
	return t == TaskTranscribe || t == TaskTranslate
}

// MeetingConfig carries the recognized per-meeting options. Language is a
// pass-through value where nil means auto-detect. Unknown options are
// rejected at the admission boundary before a config reaches the store.
type MeetingConfig struct {
	Language *string `json:"language"`
	Task     Task    `json:"task" validate:"required,oneof=transcribe translate"`
	BotName  string  `json:"bot_name" validate:"required,min=1,max=64,printascii"`
}
