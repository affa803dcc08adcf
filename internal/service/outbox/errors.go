package outbox

import "errors"

// Sentinel errors for the outbox service layer.
var (
	ErrNotFound         = errors.New("outbox job not found")
	ErrRunNotFound      = errors.New("statement run not found")
	ErrNotCancelable    = errors.New("only queued jobs can be canceled")
	ErrNotRetryable     = errors.New("only failed jobs can be retried")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrEmptyRecipient   = errors.New("recipient address is empty")
)
