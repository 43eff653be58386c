package botcommon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformValidity(t *testing.T) {
	for _, p := range Platforms() {
		assert.True(t, p.IsValid(), "platform %s should be valid", p)
	}
	assert.False(t, Platform("webex").IsValid())
	assert.False(t, Platform("").IsValid())
}

func TestConstructMeetingURL(t *testing.T) {
	tests := []struct {
		platform Platform
		nativeID string
		want     string
		wantErr  bool
	}{
		{PlatformGoogleMeet, "abc-defg-hij", "https://meet.google.com/abc-defg-hij", false},
		{PlatformZoom, "123456789", "https://zoom.us/j/123456789", false},
		{PlatformTeams, "19:meeting_xyz", "https://teams.microsoft.com/l/meetup-join/19:meeting_xyz", false},
		{PlatformZoom, "", "", true},
		{PlatformZoom, "has space", "", true},
		{Platform("webex"), "123", "", true},
	}
	for _, tt := range tests {
		got, err := tt.platform.ConstructMeetingURL(tt.nativeID)
		if tt.wantErr {
			assert.Error(t, err, "%s/%s", tt.platform, tt.nativeID)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTaskValidity(t *testing.T) {
	assert.True(t, TaskTranscribe.IsValid())
	assert.True(t, TaskTranslate.IsValid())
	assert.False(t, Task("summarize").IsValid())
	assert.False(t, Task("").IsValid())
}
