package domain

import "errors"

var (
	ErrValidation = errors.New("invalid tracking payload")
	ErrNotFound   = errors.New("website not found")
	ErrStorage    = errors.New("event storage failed")
)
