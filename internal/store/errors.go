package store

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrPermissionDenied   = errors.New("actor lacks permission for this field")
	ErrPreconditionFailed = errors.New("task must be done before it can be approved")
	ErrUnavailable        = errors.New("store unavailable")
)
