// Package auth holds the signed-in session shared by the signaling client
// and the REST collaborators.
package auth

import (
	"errors"

	"github.com/hireme/interview-call/internal/domain"
)

var (
	ErrNoSession    = errors.New("no stored session")
	ErrMissingToken = errors.New("session has no bearer token")
)

type User struct {
	ID   string      `json:"_id"`
	Name string      `json:"name"`
	Role domain.Role `json:"userType"`
}

type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Authorization returns the header value for the session token.
func (s Session) Authorization() (string, error) {
	if s.Token == "" {
		return "", ErrMissingToken
	}
	return "Bearer " + s.Token, nil
}
