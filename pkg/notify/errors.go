package notify

import "errors"

var (
	ErrUnknownKind      = errors.New("notify: unknown notification kind")
	ErrQueueFull        = errors.New("notify: dispatch queue is full")
	ErrDispatcherClosed = errors.New("notify: dispatcher is closed")
)
