package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatFrameValidator(t *testing.T) {
	v, err := NewChatFrameValidator()
	require.NoError(t, err)

	tests := []struct {
		name  string
		frame string
		valid bool
	}{
		{"message field", `{"message":"Hello!"}`, true},
		{"content field", `{"content":"Hello!"}`, true},
		{"with client ids", `{"message":"hi","sender_id":1,"receiver_id":"2"}`, true},
		{"null ids", `{"message":"hi","sender_id":null}`, true},
		{"no text", `{"sender_id":1}`, false},
		{"text not a string", `{"message":42}`, false},
		{"not an object", `["hi"]`, false},
		{"malformed json", `{"message":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateBytes([]byte(tt.frame))
			assert.Equal(t, tt.valid, result.Valid, result.GetErrorMessages())
			if !tt.valid {
				assert.NotEmpty(t, result.Errors)
			}
		})
	}
}

func TestValidator_ValidateInput(t *testing.T) {
	v, err := NewValidator(`{"type":"object","required":["user_id"],"properties":{"user_id":{"type":"integer"}}}`)
	require.NoError(t, err)

	assert.True(t, v.ValidateInput(map[string]interface{}{"user_id": 3}).Valid)

	result := v.ValidateInput(map[string]interface{}{"user_id": "x"})
	assert.False(t, result.Valid)
	assert.True(t, result.HasErrors("user_id"))
}

func TestNewValidator_RejectsBadSchema(t *testing.T) {
	_, err := NewValidator(`{"type": 12}`)
	assert.Error(t, err)
}
