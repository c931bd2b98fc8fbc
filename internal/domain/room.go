package domain

import "errors"

const MaxInterviewIDLen = 64

var ErrInterviewIDInvalid = errors.New("interview id must be 1-64 characters")

// InterviewID names the room both call participants join.
type InterviewID string

func ParseInterviewID(raw string) (InterviewID, error) {
	if len(raw) == 0 || len(raw) > MaxInterviewIDLen {
		return "", ErrInterviewIDInvalid
	}
	return InterviewID(raw), nil
}

type Room struct {
	ID InterviewID
}
