package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound       = errors.New("campaign not found")
	ErrInvalidState   = errors.New("campaign is not in a valid state for this operation")
	ErrAlreadySending = errors.New("campaign is already being sent")
	ErrInvalidInput   = errors.New("invalid campaign input")
)
