package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidName        = errors.New("invalid employee name")
	ErrInvalidImage       = errors.New("invalid employee image")
	ErrCounterCorrupt     = errors.New("identifier counter has unexpected value")
	ErrAllocationConflict = errors.New("identifier allocation conflict")
	ErrUnsupportedPath    = errors.New("unsupported store path")
	ErrChannelClosed      = errors.New("sync channel closed")
	ErrStoreClosed        = errors.New("store closed")
)
