package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("Alice", RoleRecruiter)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Username)
	assert.Equal(t, RoleRecruiter, u.Role)
	assert.Len(t, string(u.ID), MaxUserIDLen)

	_, err = NewUser("", RoleCandidate)
	assert.ErrorIs(t, err, ErrUsernameEmpty)

	_, err = NewUser(strings.Repeat("x", MaxUsernameLen+1), RoleCandidate)
	assert.ErrorIs(t, err, ErrUsernameTooLong)

	_, err = NewUser("Bob", Role("admin"))
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestUserSetters(t *testing.T) {
	u := &User{ID: "1", Username: "guest"}
	require.NoError(t, u.SetUsername("Bob"))
	require.NoError(t, u.SetRole(RoleCandidate))
	assert.Equal(t, "Bob", u.Username)
	assert.Equal(t, RoleCandidate, u.Role)

	assert.ErrorIs(t, u.SetUsername(""), ErrUsernameEmpty)
	assert.ErrorIs(t, u.SetRole(""), ErrUnknownRole)
	assert.Equal(t, "Bob", u.Username)
}

func TestParseInterviewID(t *testing.T) {
	id, err := ParseInterviewID("int-42")
	require.NoError(t, err)
	assert.Equal(t, InterviewID("int-42"), id)

	_, err = ParseInterviewID("")
	assert.ErrorIs(t, err, ErrInterviewIDInvalid)
	_, err = ParseInterviewID(strings.Repeat("a", MaxInterviewIDLen+1))
	assert.ErrorIs(t, err, ErrInterviewIDInvalid)
}
