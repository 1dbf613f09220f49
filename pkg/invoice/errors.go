package invoice

import "errors"

var (
	ErrInvalidStatus = errors.New("invalid invoice status for this operation")
	ErrInvalidItem   = errors.New("invalid invoice item")
	ErrInvalidAmount = errors.New("invalid invoice amount")
	ErrInvalidNumber = errors.New("invalid invoice number")
)
