package engagement

import "errors"

// Sentinel errors for the engagement service layer.
var (
	ErrNotFound          = errors.New("engagement record not found")
	ErrMissingSubscriber = errors.New("event carries no subscriber id")
)
