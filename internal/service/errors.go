package service

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrRateLimited    = errors.New("too many submissions")
	ErrSearchDisabled = errors.New("verification search is not configured")
)
