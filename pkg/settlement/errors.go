package settlement

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid settlement input")
	ErrImmutable            = errors.New("settled transaction is immutable")
	ErrInvalidStatus        = errors.New("invalid transaction status for this operation")
	ErrTransactionNotFound  = errors.New("payment transaction not found")
	ErrProfessionalNotFound = errors.New("professional not found")
	ErrTransactionExists    = errors.New("payment transaction already exists")
)
