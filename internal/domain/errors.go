package domain

import "errors"

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserNotFound  = errors.New("user not found")

	// ErrMalformedSetup is fatal to the connection that sent it.
	ErrMalformedSetup = errors.New("malformed setup")
	// The errors below drop the offending frame; the connection stays open.
	ErrUnauthenticated  = errors.New("setup required")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrProtocol         = errors.New("protocol violation")
	ErrRateLimited      = errors.New("rate limited")
)
