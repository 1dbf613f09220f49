package config

import "errors"

var (
	ErrParsingConfig     = errors.New("config: failed to parse environment")
	ErrInvalidConfigType = errors.New("config: cached value has a different type")
	ErrNilPointer        = errors.New("config: nil pointer")
)
