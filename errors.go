package devlink

import "errors"

var (
	ErrClosed          = errors.New("devlink: closed")
	ErrNotConnected    = errors.New("devlink: connection is not established")
	ErrNoPort          = errors.New("devlink: no port configured for device")
	ErrInvalidPortName = errors.New("devlink: invalid port name")
	ErrInvalidBuffer   = errors.New("devlink: invalid buffer size")
	ErrBufferTooLarge  = errors.New("devlink: buffer exceeds maximum size")
	ErrFrameTimeout    = errors.New("devlink: timed out waiting for frame")
	ErrLineTooLong     = errors.New("devlink: line exceeds maximum length")
)
