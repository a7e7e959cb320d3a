package message

import "errors"

var (
	ErrTooSmall                     = errors.New("too small bytes buffer")
	ErrInvalidOptionHeaderExt       = errors.New("invalid option header ext")
	ErrInvalidTokenLen              = errors.New("invalid token length")
	ErrInvalidValueLength           = errors.New("invalid value length")
	ErrOptionTruncated              = errors.New("option truncated")
	ErrOptionUnexpectedExtendMarker = errors.New("option unexpected extend marker")
	ErrOptionNotFound               = errors.New("option not found")
	ErrUnknownCriticalOption        = errors.New("unknown critical option")
	ErrPayloadMarkerWithoutPayload  = errors.New("payload marker without payload")
	ErrOptionIDOverflow             = errors.New("option number exceeds 65535")

	ErrBlockInvalidSZX        = errors.New("block option: szx out of range")
	ErrBlockNumberExceedLimit = errors.New("block option: num out of range")
	ErrBlockInvalidLength     = errors.New("block option: invalid length")
)
