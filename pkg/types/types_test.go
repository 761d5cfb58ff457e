package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassroomRef_AcceptsStringAndObject(t *testing.T) {
	var fromString ClassroomRef
	require.NoError(t, json.Unmarshal([]byte(`"math101"`), &fromString))
	assert.Equal(t, "math101", fromString.ClassroomID)

	var fromObject ClassroomRef
	require.NoError(t, json.Unmarshal([]byte(`{"classroomId":"math101"}`), &fromObject))
	assert.Equal(t, "math101", fromObject.ClassroomID)

	var bad ClassroomRef
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestTargetRef_AcceptsStringAndObject(t *testing.T) {
	var fromString TargetRef
	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &fromString))
	assert.Equal(t, "abc", fromString.SocketID)

	var fromObject TargetRef
	require.NoError(t, json.Unmarshal([]byte(`{"socketId":"abc"}`), &fromObject))
	assert.Equal(t, "abc", fromObject.SocketID)
}

func TestPresence_FlattensProfile(t *testing.T) {
	p := Presence{Socket: "s1", Profile: Profile{UserID: "u1", Name: "Ada"}}
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"socket":"s1","userId":"u1","name":"Ada"}`, string(b))
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"math101", true},
		{"5f8d0d55b54764421b7156c9", true},
		{"ada@example.com", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 129), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidID(tt.id), "id %q", tt.id)
	}
}

func TestTypingPayload_Validate(t *testing.T) {
	assert.NoError(t, TypingPayload{ClassroomID: "r1", User: "ada"}.Validate())
	assert.ErrorIs(t, TypingPayload{User: "ada"}.Validate(), ErrMissingClassroomID)
	assert.ErrorIs(t, TypingPayload{ClassroomID: "r1", User: "  "}.Validate(), ErrMissingUser)
}

func TestSendChatPayload_Validate(t *testing.T) {
	p := SendChatPayload{ClassID: "c1", Message: "hello"}
	assert.ErrorIs(t, p.Validate(), ErrMissingAuthor)

	p.Author.ID = "u1"
	assert.NoError(t, p.Validate())

	p.Message = " "
	assert.ErrorIs(t, p.Validate(), ErrEmptyMessage)

	p.Message = strings.Repeat("x", MaxMessageLength+1)
	assert.ErrorIs(t, p.Validate(), ErrContentTooLarge)
}
