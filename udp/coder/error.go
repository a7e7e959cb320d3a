package coder

import "errors"

var (
	// ErrMalformedMessage wraps every decoding failure.
	ErrMalformedMessage      = errors.New("malformed message")
	ErrMessageTruncated      = errors.New("message is truncated")
	ErrMessageInvalidVersion = errors.New("message has invalid version")
	ErrEmptyMessageNotEmpty  = errors.New("empty message carries token, options or payload")
)
