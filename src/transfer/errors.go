package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMetadata  = errors.New("invalid transfer metadata")
	ErrUnknownTransfer  = errors.New("unknown transfer")
	ErrOutOfOrder       = errors.New("chunk out of order")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTransferExpired  = errors.New("transfer idle timeout")
)

// TransferError ties a failure to the transfer it happened in.
type TransferError struct {
	Op  string
	ID  string
	Err error
}

func (e *TransferError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func newError(op, id string, err error) *TransferError {
	return &TransferError{Op: op, ID: id, Err: err}
}
