package store

import "errors"

var (
	ErrClosed        = errors.New("store is closed")
	ErrWriteTimeout  = errors.New("write operation timed out")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")
)
