package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// RoomNameRegex validates room name format
	RoomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex validates user ID format
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateDisplayName validates a participant display name
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name contains control characters")
		}
	}
	return nil
}

// ValidateSessionTitle validates a session title
func ValidateSessionTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > 200 {
		return fmt.Errorf("title is too long (max 200 characters)")
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("title contains invalid characters")
	}
	return nil
}

// ValidateChatMessage validates a chat message body
func ValidateChatMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(text) > 2000 {
		return fmt.Errorf("message is too long (max 2000 characters)")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid characters")
	}
	return nil
}

// ValidateRoomName validates a room name
func ValidateRoomName(room string) error {
	if room == "" {
		return fmt.Errorf("room name is required")
	}
	if len(room) > 100 {
		return fmt.Errorf("room name is too long (max 100 characters)")
	}
	if !RoomNameRegex.MatchString(room) {
		return fmt.Errorf("invalid room name format")
	}
	return nil
}

// ValidateUserID validates a user ID
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 100 {
		return fmt.Errorf("user ID is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
