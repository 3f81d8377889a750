package validation

import (
	"strings"
	"testing"
)

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Alice", false},
		{"valid unicode", "Алиса", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
		{"control characters", "alice\x00bob", true},
		{"max length", strings.Repeat("a", 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSessionTitle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Friday night stream", false},
		{"empty", "", true},
		{"whitespace only", "  \t ", true},
		{"too long", strings.Repeat("x", 201), true},
		{"max length", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionTitle(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionTitle(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "hello everyone", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("m", 2001), true},
		{"max length", strings.Repeat("m", 2000), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatMessage(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChatMessage error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "session-abc_123", false},
		{"empty", "", true},
		{"spaces", "my room", true},
		{"special characters", "room@home", true},
		{"too long", strings.Repeat("r", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "user-42", false},
		{"valid uuid style", "a1b2c3d4-e5f6-7890-abcd-ef1234567890", false},
		{"empty", "", true},
		{"spaces", "user 42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com/path", false},
		{"valid wss", "wss://gateway.example.com/ws", false},
		{"empty", "", true},
		{"no scheme", "example.com", true},
		{"bad scheme", "ftp://example.com", true},
		{"no host", "https://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("abc", 1, 10, "field"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStringLength("", 1, 10, "field"); err == nil {
		t.Error("expected error for too-short string")
	}
	if err := ValidateStringLength(strings.Repeat("a", 11), 1, 10, "field"); err == nil {
		t.Error("expected error for too-long string")
	}
}
