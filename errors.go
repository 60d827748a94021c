package mikrolink

import "errors"

var (
	ErrConnect              = errors.New("mikrolink: connect failed")
	ErrAuthenticationFailed = errors.New("mikrolink: authentication failed")
	ErrProtocol             = errors.New("mikrolink: protocol error")
	ErrNotConnected         = errors.New("mikrolink: not connected")
	ErrEmptyCommand         = errors.New("mikrolink: empty command")
)
