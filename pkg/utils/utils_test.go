package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateUserID()
	id2 := GenerateUserID()

	assert.True(t, strings.HasPrefix(id1, "user_"))
	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(GenerateID("call"), "call_"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m30s"},
		{61 * time.Minute, "1h1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Now()

	assert.Equal(t, 30, RemainingSeconds(now, now.Add(30*time.Second)))
	assert.Equal(t, 1, RemainingSeconds(now, now.Add(500*time.Millisecond)))
	assert.Equal(t, 0, RemainingSeconds(now, now))
	assert.Equal(t, 0, RemainingSeconds(now, now.Add(-5*time.Second)))
}
