package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendTimeout      = errors.New("send queue full, write timed out")
)
