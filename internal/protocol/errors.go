package protocol

import "errors"

var (
	ErrInvalidLength = errors.New("protocol: invalid length")
	ErrTruncated     = errors.New("protocol: truncated data")
)
