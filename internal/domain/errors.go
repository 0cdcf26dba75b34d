package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session is processing another turn")
	ErrSessionClosed    = errors.New("session is complete")
	ErrInvalidIntensity = errors.New("intensity must be between 0 and 10")
	ErrInvalidChoice    = errors.New("unknown choice")
	ErrEmptyMessage     = errors.New("message is empty")
)
